package browser

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"ontimecar-scraper/internal/cell"
	"ontimecar-scraper/internal/config"

	"github.com/google/go-cmp/cmp"
)

const liveFixture = `<html><body>
<form><input type="password" name="password"></form>
<table class="table"><tbody>
<tr><td><button>Ver</button></td><td>1087549965</td><td><input type="text" value="Calle 10"></td>
<td><select><option>Pendiente</option><option>Confirmado</option></select></td>
<td><input type="checkbox" value="si"></td></tr>
</tbody></table>
<script>
document.querySelector('select').selectedIndex = 1;
document.querySelector('input[type=checkbox]').checked = true;
</script>
</body></html>`

// TestLiveSnapshot drives a real Chrome. Set ONTIMECAR_LIVE_TESTS=1 to run it.
func TestLiveSnapshot(t *testing.T) {
	if os.Getenv("ONTIMECAR_LIVE_TESTS") == "" {
		t.Skip("set ONTIMECAR_LIVE_TESTS to run live browser tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	f := NewRodFactory(config.BrowserConfig{}, nil)
	defer f.Close()

	bc, err := f.NewContext(ctx)
	if err != nil {
		t.Skipf("chrome unavailable: %v", err)
	}
	defer bc.Close()
	if !f.Initialized() || f.ControlURL() == "" {
		t.Fatal("expected a connected browser")
	}

	page, err := bc.Open(ctx)
	if err != nil {
		t.Fatalf("open page: %v", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, "data:text/html,"+url.PathEscape(liveFixture)); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	cfg := config.DefaultConfig()
	if !Await(ctx, RowsPresent(page, cfg.Readiness.TableSelectors), 5*time.Second, 50*time.Millisecond) {
		t.Fatal("rows never appeared")
	}
	present, err := LoginFormPresent(ctx, page, cfg.Session.PasswordSelectors)
	if err != nil || !present {
		t.Errorf("expected the password field to be detected, got %v, %v", present, err)
	}

	html, err := SnapshotTable(ctx, page, cfg.Readiness.TableSelectors)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.HasPrefix(html, "<table>") {
		t.Fatalf("unexpected snapshot %q", html)
	}

	rows, err := cell.NewResolver().Rows(html)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	want := [][]string{{"Ver", "1087549965", "Calle 10", "Confirmado", "si"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("live rows mismatch (-want +got):\n%s", diff)
	}
}
