package browser

// Page scripts. Each is a function expression; Eval passes its arguments by value.

// LoginStateJS reports whether a password field is on the page and which failure
// marker, if any, appears in the page text.
const LoginStateJS = `(passSels, markers) => {
	const passwordForm = passSels.some((s) => document.querySelector(s) !== null);
	const text = ((document.body && document.body.innerText) || '').toLowerCase();
	const failure = markers.find((m) => m && text.includes(m.toLowerCase())) || '';
	return { passwordForm: passwordForm, failure: failure };
}`

// LoginFillJS writes the credential pair into the first matching inputs and fires
// input/change so framework listeners see the values.
const LoginFillJS = `(userSels, passSels, user, pass) => {
	const find = (sels) => {
		for (const s of sels) {
			const el = document.querySelector(s);
			if (el) return el;
		}
		return null;
	};
	const set = (el, v) => {
		el.focus();
		el.value = v;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
	};
	const p = find(passSels);
	const u = find(userSels);
	if (u && u !== p) set(u, user);
	if (p) set(p, pass);
	return { user: !!u, password: !!p };
}`

// LoginSubmitJS clicks the first submit control, else submits the password's form.
const LoginSubmitJS = `(submitSels) => {
	for (const s of submitSels) {
		const b = document.querySelector(s);
		if (b) { b.click(); return 'button'; }
	}
	const p = document.querySelector('input[type="password"]');
	const form = (p && p.form) || document.querySelector('form');
	if (form) { form.submit(); return 'form'; }
	return 'none';
}`

// RowsPresentJS reports whether any candidate table body has a row.
const RowsPresentJS = `(tableSels) => tableSels.some((s) => document.querySelector(s + ' tr') !== null)`

// WidgetReadyJS reports whether a DataTables instance exists, or plain rows are rendered.
const WidgetReadyJS = `(tableSels) => {
	const $ = window.jQuery;
	if ($ && $.fn && $.fn.dataTable && $.fn.dataTable.tables().length > 0) return true;
	return tableSels.some((s) => document.querySelector(s + ' tr') !== null);
}`

// BusyClearedJS reports whether every processing indicator is absent or hidden.
const BusyClearedJS = `(busySels) => busySels.every((s) =>
	Array.from(document.querySelectorAll(s)).every((el) => {
		const st = window.getComputedStyle(el);
		return st.display === 'none' || st.visibility === 'hidden' || el.offsetParent === null;
	}))`

// WidgetSearchJS drives the DataTables search API. column < 0 means global search.
const WidgetSearchJS = `(value, column) => {
	const $ = window.jQuery;
	if (!$ || !$.fn || !$.fn.dataTable) return false;
	const tables = $.fn.dataTable.tables({ visible: true });
	if (!tables.length) return false;
	const api = $(tables[0]).DataTable();
	if (column >= 0 && column < api.columns().count()) {
		api.search('');
		api.column(column).search(value);
	} else {
		api.search(value);
	}
	api.draw();
	return true;
}`

// ShowAllRowsJS asks the widget to render every row on one page.
const ShowAllRowsJS = `() => {
	const $ = window.jQuery;
	if (!$ || !$.fn || !$.fn.dataTable) return false;
	const tables = $.fn.dataTable.tables({ visible: true });
	if (!tables.length) return false;
	$(tables[0]).DataTable().page.len(-1).draw();
	return true;
}`

// LocatorFillJS fills the first visible, enabled input matched by the ordered
// locator list and returns the locator that matched, or ''.
const LocatorFillJS = `(locators, value) => {
	const usable = (el) => el.offsetParent !== null && !el.disabled && el.type !== 'hidden';
	for (const sel of locators) {
		let el = null;
		try {
			el = Array.from(document.querySelectorAll(sel)).find(usable);
		} catch (e) {
			continue;
		}
		if (!el) continue;
		el.focus();
		el.value = '';
		el.value = value;
		for (const t of ['input', 'keyup', 'change']) {
			el.dispatchEvent(new Event(t, { bubbles: true }));
		}
		return sel;
	}
	return '';
}`

// HeuristicFillJS picks the visible text input whose attributes match pattern, else
// the first visible one, fills it and clicks a Filtrar/Filter/Buscar button if any.
const HeuristicFillJS = `(pattern, value) => {
	const skip = ['hidden', 'checkbox', 'radio', 'submit', 'button', 'password', 'file', 'image', 'reset'];
	const inputs = Array.from(document.querySelectorAll('input')).filter((i) =>
		i.offsetParent !== null && !i.disabled && !skip.includes((i.type || '').toLowerCase()));
	if (!inputs.length) return { filled: false, clicked: false };
	const re = new RegExp(pattern, 'i');
	const input = inputs.find((i) => re.test([i.placeholder, i.name, i.id, i.className].join(' '))) || inputs[0];
	input.focus();
	input.value = value;
	input.dispatchEvent(new Event('input', { bubbles: true }));
	input.dispatchEvent(new Event('change', { bubbles: true }));
	const btn = Array.from(document.querySelectorAll('button, input[type="button"], input[type="submit"]'))
		.find((b) => /filtrar|filter|buscar/i.test(b.innerText || b.value || ''));
	if (btn) btn.click();
	return { filled: true, clicked: !!btn };
}`

// SnapshotTableJS freezes live control state of the first populated table body into
// attributes and returns it wrapped in a table element, or '' when nothing has rows.
const SnapshotTableJS = `(tableSels) => {
	let body = null;
	for (const s of tableSels) {
		body = Array.from(document.querySelectorAll(s)).find((b) => b.querySelector('tr td') !== null);
		if (body) break;
	}
	if (!body) return '';
	body.querySelectorAll('input').forEach((i) => {
		i.setAttribute('value', i.value);
		if (i.checked) i.setAttribute('checked', ''); else i.removeAttribute('checked');
	});
	body.querySelectorAll('select').forEach((s) => {
		Array.from(s.options).forEach((o) => {
			if (o.selected) o.setAttribute('selected', ''); else o.removeAttribute('selected');
		});
	});
	body.querySelectorAll('textarea').forEach((t) => { t.textContent = t.value; });
	return '<table>' + body.outerHTML + '</table>';
}`
