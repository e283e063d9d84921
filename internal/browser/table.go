package browser

import (
	"context"
	"fmt"
)

// SnapshotTable returns the first populated table body as standalone HTML with the
// live state of its form controls frozen into attributes. It returns "" when no
// candidate body has rows.
func SnapshotTable(ctx context.Context, page Page, tableSelectors []string) (string, error) {
	out, err := page.Eval(ctx, SnapshotTableJS, tableSelectors)
	if err != nil {
		return "", fmt.Errorf("snapshot table: %w", err)
	}
	return jsonString(out), nil
}

// LoginFormPresent reports whether the page shows the password field, which on a
// view page means the session cookie was dropped.
func LoginFormPresent(ctx context.Context, page Page, passwordSelectors []string) (bool, error) {
	st, err := page.Eval(ctx, LoginStateJS, passwordSelectors, []string{})
	if err != nil {
		return false, err
	}
	return jsonBool(st, "passwordForm"), nil
}
