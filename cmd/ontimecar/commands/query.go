package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"ontimecar-scraper/internal/extraction"
	"ontimecar-scraper/internal/schema"

	"github.com/go-resty/resty/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var (
		addr     string
		from, to string
		timeout  time.Duration
		raw      bool
	)

	cmd := &cobra.Command{
		Use:   "query <view> <identifier>",
		Short: "Run a lookup against a running server and print the records.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(addr, timeout)
			req := extraction.Request{View: args[0], Identifier: args[1], From: from, To: to}

			res, err := fetchLookup(cmd.Context(), client, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			info, err := fetchView(cmd.Context(), client, req.View)
			if err != nil {
				return err
			}
			renderResult(out, res, info.Fields)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:3000", "Base URL of the ontimecar server")
	cmd.Flags().StringVar(&from, "from", "", "Inclusive start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Inclusive end date, YYYY-MM-DD")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "HTTP timeout")
	cmd.Flags().BoolVar(&raw, "json", false, "Print the raw JSON response")
	return cmd
}

func newAPIClient(addr string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(addr).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// fetchLookup calls GET /consulta/{view}. A 404 from a not-found view is an error.
func fetchLookup(ctx context.Context, client *resty.Client, req extraction.Request) (*extraction.Result, error) {
	params := map[string]string{"identifier": req.Identifier}
	if req.From != "" {
		params["from"] = req.From
	}
	if req.To != "" {
		params["to"] = req.To
	}

	var res extraction.Result
	var errBody extraction.ErrorBody
	resp, err := client.R().
		SetContext(ctx).
		SetPathParam("view", req.View).
		SetQueryParams(params).
		SetResult(&res).
		SetError(&errBody).
		Get("/consulta/{view}")
	if err != nil {
		return nil, fmt.Errorf("request lookup: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp, errBody)
	}
	return &res, nil
}

func fetchView(ctx context.Context, client *resty.Client, view string) (*schema.Info, error) {
	var info schema.Info
	var errBody extraction.ErrorBody
	resp, err := client.R().
		SetContext(ctx).
		SetPathParam("view", view).
		SetResult(&info).
		SetError(&errBody).
		Get("/columnas/{view}")
	if err != nil {
		return nil, fmt.Errorf("request view: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp, errBody)
	}
	return &info, nil
}

func apiError(resp *resty.Response, body extraction.ErrorBody) error {
	if body.Error == "" {
		return fmt.Errorf("server returned %s", resp.Status())
	}
	msg := fmt.Sprintf("%s (%d): %s", body.Error, resp.StatusCode(), body.Message)
	if body.Detail != "" {
		msg += ": " + body.Detail
	}
	if body.RetryAfterSeconds > 0 {
		msg += fmt.Sprintf(", retry in %ds", body.RetryAfterSeconds)
	}
	return errors.New(msg)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// renderResult prints the matched records, keeping only columns with a value.
func renderResult(w io.Writer, res *extraction.Result, fields []string) {
	fmt.Fprintln(w, res.Message)
	if len(res.Records) > 0 {
		var cols []string
		for _, f := range fields {
			for _, rec := range res.Records {
				if rec[f] != "" {
					cols = append(cols, f)
					break
				}
			}
		}

		t := newTable(w)
		header := table.Row{"fila", "coincidencia"}
		for _, c := range cols {
			header = append(header, c)
		}
		t.AppendHeader(header)
		for _, rec := range res.Records {
			row := table.Row{rec["_fila"], rec["_coincidencia"]}
			for _, c := range cols {
				row = append(row, rec[c])
			}
			t.AppendRow(row)
		}
		t.AppendFooter(table.Row{"total", res.Total})
		t.Render()
	}

	if len(res.Record) > 0 {
		keys := make([]string, 0, len(res.Record))
		for k := range res.Record {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		t := newTable(w)
		t.AppendHeader(table.Row{"campo", "valor"})
		for _, k := range keys {
			t.AppendRow(table.Row{k, res.Record[k]})
		}
		t.Render()
	}

	d := res.Diagnostics
	fmt.Fprintf(w, "filas vistas %d, coincidencias %d, %dms, estrategia %s\n", d.RowsSeen, d.RowsMatched, d.ElapsedMs, d.Strategy)
}
