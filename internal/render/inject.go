package render

import (
	"fmt"
	"strings"

	"github.com/webrender/webrender/api/schemas"
)

// WindowVariable is the window property the init script publishes the
// caller's promise under.
const WindowVariable = "___webrender"

// initScriptSource names the init script in stack traces so its frames can
// be told apart from the caller's.
const initScriptSource = "webrender-init.js"

// readResultExpression reads the promise published by the init script.
const readResultExpression = "window." + WindowVariable

var templateEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"${", `\${`,
)

// escapeTemplateLiteral makes js safe to embed between backticks.
func escapeTemplateLiteral(js string) string {
	return templateEscaper.Replace(js)
}

// BuildInitScript wraps js as the body of an async function taking one
// parameter, webrender, and schedules it for the milestone on. The returned
// script publishes the function's promise on window.___webrender and logs
// to console.error if the wrapper itself cannot be built, for example when
// js does not parse.
func BuildInitScript(js string, on schemas.JSOn) string {
	var trigger string
	switch on {
	case schemas.JSOnDOMContentLoaded:
		trigger = `new Promise((resolve) => {
      if (document.readyState !== "loading") {
        resolve();
        return;
      }
      document.addEventListener("DOMContentLoaded", () => resolve(), { once: true });
    }).then(() => f())`
	case schemas.JSOnLoad:
		trigger = `new Promise((resolve) => {
      if (document.readyState === "complete") {
        resolve();
        return;
      }
      window.addEventListener("load", () => resolve(), { once: true });
    }).then(() => f())`
	default:
		trigger = "f()"
	}

	return fmt.Sprintf(`(() => {
  try {
    const AsyncFunction = Object.getPrototypeOf(async function () {}).constructor;
    const f = new AsyncFunction("webrender", `+"`%s`"+`);
    const promise = %s;
    Object.defineProperty(window, %q, { get: () => promise });
  } catch (e) {
    console.error("Page init script has failed!", e);
  }
})();
//# sourceURL=%s
`, escapeTemplateLiteral(js), trigger, WindowVariable, initScriptSource)
}
