package browser

import (
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// The fixed set of in-page operations. Each is a complete function
// declaration executed through Runtime.callFunctionOn with typed arguments;
// no JavaScript source is ever assembled from run-time strings.

// callOnObject pins a Runtime.callFunctionOn to a resolved object. Chrome
// rejects calls that carry neither an objectId nor an executionContextId, so
// every fixed operation is issued against the page's document object.
func callOnObject(id runtime.RemoteObjectID) chromedp.CallOption {
	return func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return p.WithObjectID(id)
	}
}

// clickableTags is the element set scanned by the free-text click operation.
var clickableTags = []string{"button", "a", "[role='button']"}

// fnSelectorVisible reports whether a selector matches an element with a
// non-empty layout box.
const fnSelectorVisible = `function(sel) {
	const el = document.querySelector(sel);
	if (!el) return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`

// fnClickByText clicks the first element among the given tags whose trimmed,
// lower-cased text equals one of the phrases. Returns the matched phrase text
// or the empty string.
const fnClickByText = `function(tags, phrases) {
	const norm = s => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const wanted = new Set(phrases.map(norm));
	for (const tag of tags) {
		for (const el of document.querySelectorAll(tag)) {
			const text = norm(el.innerText || el.textContent);
			if (text && wanted.has(text)) {
				el.click();
				return text;
			}
		}
	}
	return '';
}`

// fnReadStorage enumerates localStorage and sessionStorage key/value pairs.
const fnReadStorage = `function() {
	const dump = s => {
		const out = [];
		for (let i = 0; i < s.length; i++) {
			const key = s.key(i);
			out.push({ key: key, value: s.getItem(key) });
		}
		return out;
	};
	let local = [], session = [];
	try { local = dump(window.localStorage); } catch (e) {}
	try { session = dump(window.sessionStorage); } catch (e) {}
	return { local: local, session: session };
}`
