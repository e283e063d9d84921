package cell

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Live control state (value, checked, selected) is expected to be frozen into
// attributes before the HTML is serialized; see browser.SnapshotTable.

// FormControl reads the first control that carries a value: a checked checkbox or
// radio, a text-like input, the selected option of a select, or a textarea.
type FormControl struct{}

func (FormControl) Name() string { return "form_control" }

func (FormControl) TryResolve(cell *goquery.Selection) (string, bool) {
	var out string
	cell.Find("input, select, textarea").EachWithBreak(func(_ int, ctl *goquery.Selection) bool {
		switch goquery.NodeName(ctl) {
		case "input":
			out = inputValue(ctl)
		case "select":
			out = selectValue(ctl)
		case "textarea":
			out = Collapse(ctl.Text())
		}
		return out == ""
	})
	return out, out != ""
}

func inputValue(in *goquery.Selection) string {
	typ := strings.ToLower(in.AttrOr("type", "text"))
	switch typ {
	case "hidden", "button", "submit", "reset", "image", "file", "password":
		return ""
	case "checkbox", "radio":
		if _, checked := in.Attr("checked"); !checked {
			return ""
		}
		if v := strings.TrimSpace(in.AttrOr("value", "")); v != "" {
			return v
		}
		return "true"
	default:
		return strings.TrimSpace(in.AttrOr("value", ""))
	}
}

func selectValue(sel *goquery.Selection) string {
	opt := sel.Find("option[selected]").First()
	if opt.Length() == 0 {
		opt = sel.Find("option").First()
	}
	if opt.Length() == 0 {
		return ""
	}
	if label := Collapse(opt.Text()); label != "" {
		return label
	}
	return strings.TrimSpace(opt.AttrOr("value", ""))
}

// ContentEditable reads an editable region inside the cell.
type ContentEditable struct{}

func (ContentEditable) Name() string { return "contenteditable" }

func (ContentEditable) TryResolve(cell *goquery.Selection) (string, bool) {
	var out string
	cell.Find("[contenteditable]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if strings.EqualFold(el.AttrOr("contenteditable", ""), "false") {
			return true
		}
		out = Collapse(el.Text())
		return out == ""
	})
	return out, out != ""
}

// Annotation reads the title of the cell or a descendant, then data-value,
// data-title or data-text on the cell.
type Annotation struct{}

func (Annotation) Name() string { return "annotation" }

func (Annotation) TryResolve(cell *goquery.Selection) (string, bool) {
	out := strings.TrimSpace(cell.AttrOr("title", ""))
	if out != "" {
		return out, true
	}
	cell.Find("[title]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		out = strings.TrimSpace(el.AttrOr("title", ""))
		return out == ""
	})
	if out != "" {
		return out, true
	}
	for _, attr := range []string{"data-value", "data-title", "data-text"} {
		if v := strings.TrimSpace(cell.AttrOr(attr, "")); v != "" {
			return v, true
		}
	}
	return "", false
}

// LinkText reads the text of the first hyperlink.
type LinkText struct{}

func (LinkText) Name() string { return "link_text" }

func (LinkText) TryResolve(cell *goquery.Selection) (string, bool) {
	a := cell.Find("a").First()
	if a.Length() == 0 {
		return "", false
	}
	out := Collapse(a.Text())
	return out, out != ""
}

// ImageAlt reads the alt text of the first image that has one.
type ImageAlt struct{}

func (ImageAlt) Name() string { return "image_alt" }

func (ImageAlt) TryResolve(cell *goquery.Selection) (string, bool) {
	var out string
	cell.Find("img[alt]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		out = strings.TrimSpace(img.AttrOr("alt", ""))
		return out == ""
	})
	return out, out != ""
}

// CellText is the terminal strategy: the cell's rendered text, possibly empty.
type CellText struct{}

func (CellText) Name() string { return "cell_text" }

func (CellText) TryResolve(cell *goquery.Selection) (string, bool) {
	return Collapse(cell.Text()), true
}
