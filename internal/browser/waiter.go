package browser

import (
	"context"
	"time"

	"github.com/ysmood/gson"
)

const defaultPoll = 250 * time.Millisecond

// Condition reports whether the page reached some state.
type Condition func(ctx context.Context) (bool, error)

// Await polls cond until it holds, timeout elapses or ctx ends. A timeout is not an
// error: callers decide whether to continue. Errors from cond count as "not yet".
func Await(ctx context.Context, cond Condition, timeout, poll time.Duration) bool {
	if poll <= 0 {
		poll = defaultPoll
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if ok, err := cond(waitCtx); err == nil && ok {
			return true
		}
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// WidgetReady holds once the table widget's data source exists.
func WidgetReady(p Page, tableSelectors []string) Condition {
	return evalCondition(p, WidgetReadyJS, tableSelectors)
}

// BusyCleared holds once every processing indicator is absent or hidden.
func BusyCleared(p Page, busySelectors []string) Condition {
	return evalCondition(p, BusyClearedJS, busySelectors)
}

// RowsPresent holds once a candidate table body has at least one row.
func RowsPresent(p Page, tableSelectors []string) Condition {
	return evalCondition(p, RowsPresentJS, tableSelectors)
}

func evalCondition(p Page, js string, args ...interface{}) Condition {
	return func(ctx context.Context) (bool, error) {
		v, err := p.Eval(ctx, js, args...)
		if err != nil {
			return false, err
		}
		ok, _ := v.Val().(bool)
		return ok, nil
	}
}

func jsonString(v gson.JSON) string {
	if v.Nil() {
		return ""
	}
	if s, ok := v.Val().(string); ok {
		return s
	}
	return ""
}

func jsonBool(v gson.JSON, key string) bool {
	if v.Nil() {
		return false
	}
	b, _ := v.Get(key).Val().(bool)
	return b
}
