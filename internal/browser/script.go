package browser

import (
	"encoding/json"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// evaluate runs a script atomically in the page and unmarshals the result
// by value. Atomic JS evaluation avoids the races that come with node
// handles on pages that mutate under us.
func evaluate(script string, out any) chromedp.Action {
	return chromedp.Evaluate(script, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})
}

// jsonEncode safely injects a Go value into a script as a JS literal.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// frameDiscoveryScript tags every reachable same-origin iframe with a
// stable attribute and returns the selector path to each, outermost first.
// Cross-origin frames throw on contentDocument access and are skipped.
const frameDiscoveryScript = `(() => {
	const paths = [];
	let seq = 0;
	const walk = (doc, prefix) => {
		for (const f of doc.querySelectorAll('iframe, frame')) {
			let inner = null;
			try { inner = f.contentDocument; } catch (e) { continue; }
			if (!inner) continue;
			const ref = 'f' + (seq++);
			f.setAttribute('data-dc-frame', ref);
			const path = prefix.concat(['[data-dc-frame="' + ref + '"]']);
			paths.push(path);
			walk(inner, path);
		}
	};
	walk(document, []);
	return paths;
})()`

// frameResolver is the shared bootstrap prepended to every frame-scoped
// script. It binds doc to the frame's document (or null when the frame is
// gone or cross-origin).
const frameResolver = `
	const resolveDoc = (path) => {
		let doc = document;
		for (const sel of path) {
			const el = doc.querySelector(sel);
			if (!el) return null;
			let inner = null;
			try { inner = el.contentDocument; } catch (e) { return null; }
			if (!inner) return null;
			doc = inner;
		}
		return doc;
	};
`

// controlScanScript snapshots every form control, button, and link in a
// frame. Each element is tagged with data-dc-ref so later operations can
// address it without recomputing selectors. Per-element failures are
// swallowed so one malformed control never aborts the scan.
const controlScanScript = `(() => {` + frameResolver + `
	const doc = resolveDoc(%s);
	if (!doc) return [];
	const visible = (el) => {
		if (!el.getClientRects().length) return false;
		const style = el.ownerDocument.defaultView.getComputedStyle(el);
		return style.visibility !== 'hidden' && style.display !== 'none';
	};
	const labelFor = (el) => {
		if (el.id) {
			const lab = doc.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (lab) return lab.textContent.trim();
		}
		const anc = el.closest('label');
		return anc ? anc.textContent.trim() : '';
	};
	const out = [];
	let seq = 0;
	const selector = 'input, textarea, select, button, a[href], [role=button]';
	for (const el of doc.querySelectorAll(selector)) {
		try {
			let ref = el.getAttribute('data-dc-ref');
			if (!ref) {
				ref = 'c' + (seq++) + '-' + Math.random().toString(36).slice(2, 8);
				el.setAttribute('data-dc-ref', ref);
			}
			const tag = el.tagName.toLowerCase();
			const parent = el.parentElement;
			out.push({
				ref: '[data-dc-ref="' + ref + '"]',
				tag: tag,
				type: (el.getAttribute('type') || '').toLowerCase(),
				role: el.getAttribute('role') || '',
				name: el.getAttribute('name') || '',
				dom_id: el.id || '',
				placeholder: el.getAttribute('placeholder') || '',
				aria_label: el.getAttribute('aria-label') || '',
				autocomplete: el.getAttribute('autocomplete') || '',
				label: labelFor(el),
				surround: parent ? parent.textContent.trim().slice(0, 300) : '',
				value: 'value' in el ? String(el.value ?? '') : '',
				text: (el.textContent || '').trim().slice(0, 200),
				visible: visible(el),
				enabled: !el.disabled && !el.readOnly,
				checked: !!el.checked,
				required: !!el.required || el.getAttribute('aria-required') === 'true',
				radio_group: (tag === 'input' && el.type === 'radio') ? (el.name || '') : ''
			});
		} catch (e) { /* skip malformed control */ }
	}
	return out;
})()`

// setValueScript writes through the native value setter so framework
// getter/setter overrides (React and friends) still observe the change,
// then dispatches the events client-side validation listens for.
const setValueScript = `(() => {` + frameResolver + `
	const doc = resolveDoc(%s);
	if (!doc) return 'frame gone';
	const el = doc.querySelector(%s);
	if (!el) return 'control not found';
	const win = doc.defaultView;
	const value = %s;
	const proto = el.tagName === 'TEXTAREA' ? win.HTMLTextAreaElement.prototype
		: el.tagName === 'SELECT' ? win.HTMLSelectElement.prototype
		: win.HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) { desc.set.call(el, value); } else { el.value = value; }
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	el.dispatchEvent(new win.FocusEvent('blur', { bubbles: true }));
	return '';
})()`

// readValueScript returns the control's live value, or null when the
// control is gone.
const readValueScript = `(() => {` + frameResolver + `
	const doc = resolveDoc(%s);
	if (!doc) return null;
	const el = doc.querySelector(%s);
	if (!el) return null;
	return 'value' in el ? String(el.value ?? '') : '';
})()`

// setCheckedScript clicks a checkbox or radio member into the checked
// state. Already-checked elements are left alone so no change event fires.
const setCheckedScript = `(() => {` + frameResolver + `
	const doc = resolveDoc(%s);
	if (!doc) return 'frame gone';
	const el = doc.querySelector(%s);
	if (!el) return 'control not found';
	if (el.checked) return '';
	el.scrollIntoView({ block: 'center' });
	el.click();
	return '';
})()`

// clickScript scrolls the element into view and clicks it.
const clickScript = `(() => {` + frameResolver + `
	const doc = resolveDoc(%s);
	if (!doc) return 'frame gone';
	const el = doc.querySelector(%s);
	if (!el) return 'control not found';
	el.scrollIntoView({ block: 'center' });
	el.click();
	return '';
})()`

// blurAllScript fires input/change/blur on every control and clicks
// neutral page space, so client-side validation state settles before it
// is counted.
const blurAllScript = `(() => {` + frameResolver + `
	const doc = resolveDoc(%s);
	if (!doc) return false;
	const win = doc.defaultView;
	for (const el of doc.querySelectorAll('input, textarea, select')) {
		try {
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
			el.dispatchEvent(new win.FocusEvent('blur', { bubbles: true }));
		} catch (e) { /* skip */ }
	}
	if (doc.body) doc.body.click();
	return true;
})()`

// validationErrorsScript counts visible validation failures: aria-invalid
// markers, native constraint violations, and populated inline error
// containers.
const validationErrorsScript = `(() => {` + frameResolver + `
	const doc = resolveDoc(%s);
	if (!doc) return 0;
	const visible = (el) => el.getClientRects().length > 0;
	let count = 0;
	for (const el of doc.querySelectorAll('[aria-invalid="true"]')) {
		if (visible(el)) count++;
	}
	for (const el of doc.querySelectorAll('input, textarea, select')) {
		if (el.willValidate && !el.checkValidity() && visible(el)) count++;
	}
	const errSelector = '.error, .field-error, .form-error, .invalid-feedback, [role=alert]';
	for (const el of doc.querySelectorAll(errSelector)) {
		if (visible(el) && el.textContent.trim()) count++;
	}
	return count;
})()`
