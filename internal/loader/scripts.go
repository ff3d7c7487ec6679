package loader

import (
	"encoding/json"
	"fmt"
)

// contentLengthScript is the single readiness probe used by every strategy.
const contentLengthScript = `document.body ? document.body.innerText.length : 0`

func scriptNavigation(url string) string {
	return fmt.Sprintf(`(window.location.href = %s, true)`, jsString(url))
}

// rawFetchInjection requests the document from page context and replaces the
// current document with the raw markup, skipping subresource loading.
func rawFetchInjection(url string) string {
	return fmt.Sprintf(`(fetch(%s, {credentials: "include"})
	.then(function (r) { return r.text(); })
	.then(function (html) { document.open(); document.write(html); document.close(); })
	.catch(function () {}), true)`, jsString(url))
}

func jsString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(encoded)
}
