package sandbox

import (
	"fmt"

	domainchat "sandchat/internal/domain/services/chat"
)

// consoleShim forwards console output and uncaught errors of the preview
// document to its host window. It is the only channel out of the
// sandboxed document.
var consoleShim = fmt.Sprintf(`<script>
(function () {
  var SOURCE = %q;
  function fmt(args) {
    return Array.prototype.map.call(args, function (a) {
      if (a instanceof Error) { return a.stack || String(a); }
      if (typeof a === "object") { try { return JSON.stringify(a); } catch (e) { return String(a); } }
      return String(a);
    }).join(" ");
  }
  function post(kind, payload) {
    try { parent.postMessage({ source: SOURCE, kind: kind, payload: payload }, "*"); } catch (e) {}
  }
  ["log", "info", "warn", "error"].forEach(function (kind) {
    var original = console[kind];
    console[kind] = function () {
      post(kind, fmt(arguments));
      if (original) { original.apply(console, arguments); }
    };
  });
  window.addEventListener("error", function (e) {
    var where = e.lineno ? " (line " + e.lineno + ")" : "";
    post("error", (e.message || String(e.error)) + where);
  });
  window.addEventListener("unhandledrejection", function (e) {
    var r = e.reason;
    post("error", "Unhandled promise rejection: " + (r && r.message ? r.message : String(r)));
  });
})();
</script>`, domainchat.PreviewMessageSource)
