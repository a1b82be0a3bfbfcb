// Package views renders the wizard pages as templ components.
package views

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/core"
	"github.com/JonMunkholm/bundlewizard/internal/document"
	"github.com/JonMunkholm/bundlewizard/internal/review"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

// esc is shorthand for attribute and text escaping.
func esc(s string) string { return templ.EscapeString(s) }

// Page renders the full wizard page.
func Page(snap core.Snapshot, health backend.HealthStatus) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, pageHead); err != nil {
			return err
		}
		if err := header(health).Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `<main id="wizard">`); err != nil {
			return err
		}
		if err := Panel(snap).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main>`+pageScript+`</body></html>`)
		return err
	})
}

// Panel renders the step indicator, the current stage and the console.
// HTMX requests receive only this fragment.
func Panel(snap core.Snapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := Steps(snap.Steps).Render(ctx, w); err != nil {
			return err
		}
		if snap.Error != nil {
			if err := ErrorAlert(snap.Error.Message, snap.Error.Action, snap.Error.Code).Render(ctx, w); err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintf(w, `<section class="stage" data-stage="%s"><h2>%s</h2>`, esc(snap.StageName), esc(snap.Label)); err != nil {
			return err
		}
		var err error
		switch snap.Stage {
		case workflow.StageReview:
			err = reviewPanel(snap).Render(ctx, w)
		case workflow.StageValidate:
			err = validatePanel(snap).Render(ctx, w)
		case workflow.StageDownload:
			err = downloadPanel(snap).Render(ctx, w)
		default:
			err = uploadPanel(snap).Render(ctx, w)
		}
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, `</section>`); err != nil {
			return err
		}

		return Console(snap.ConsoleState, snap.Console).Render(ctx, w)
	})
}

func header(health backend.HealthStatus) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		class := "down"
		if health.OK {
			class = "up"
		}
		status := health.Status
		if status == "" {
			status = "unknown"
		}
		_, err := fmt.Fprintf(w,
			`<header><h1>NHCX Bundle Wizard</h1><span class="backend %s">backend: %s</span>`+
				`<button data-action="POST /api/wizard/reset">Start over</button></header>`,
			class, esc(status))
		return err
	})
}

// Steps renders the four-step indicator. Reached steps are links.
func Steps(steps []workflow.StepView) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<ol class="steps">`)
		for _, st := range steps {
			var classes []string
			if st.Current {
				classes = append(classes, "current")
			}
			if st.Done {
				classes = append(classes, "done")
			}
			if !st.Reachable {
				classes = append(classes, "locked")
			}
			fmt.Fprintf(&b, `<li class="%s">`, strings.Join(classes, " "))
			if st.Reachable && !st.Current {
				fmt.Fprintf(&b, `<button data-action="POST /api/wizard/navigate/%d">%d. %s</button>`,
					int(st.Stage), int(st.Stage)+1, esc(st.Label))
			} else {
				fmt.Fprintf(&b, `<span>%d. %s</span>`, int(st.Stage)+1, esc(st.Label))
			}
			b.WriteString(`</li>`)
		}
		b.WriteString(`</ol>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func uploadPanel(snap core.Snapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<form id="upload" enctype="multipart/form-data">`+
			`<input type="file" name="file" accept="application/pdf,.pdf" required>`+
			`<button type="submit">Convert</button></form>`); err != nil {
			return err
		}
		running := snap.Progress != nil && !snap.Progress.Done()
		if running {
			if _, err := io.WriteString(w, `<button data-action="POST /api/wizard/cancel">Cancel</button>`); err != nil {
				return err
			}
		}
		return Progress(snap.Progress).Render(ctx, w)
	})
}

// Progress renders the conversion progress bar and log tail.
func Progress(p *core.ConversionProgress) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if p == nil {
			_, err := io.WriteString(w, `<div id="progress" hidden><progress max="100"></progress><pre class="log"></pre></div>`)
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, `<div id="progress" data-phase="%s">`, esc(string(p.Phase)))
		if p.Total > 0 {
			fmt.Fprintf(&b, `<progress max="100" value="%d"></progress><span>%d / %d</span>`, p.Percent(), p.Current, p.Total)
		} else {
			b.WriteString(`<progress max="100"></progress>`)
		}
		b.WriteString(`<pre class="log">`)
		for _, line := range p.Log {
			b.WriteString(esc(line))
			b.WriteByte('\n')
		}
		b.WriteString(`</pre></div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func reviewPanel(snap core.Snapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := Table(snap.Rows).Render(ctx, w); err != nil {
			return err
		}
		var b strings.Builder
		b.WriteString(`<div class="actions"><button data-action="POST /api/wizard/review/rows">Add row</button>`)
		if snap.CanUndo {
			b.WriteString(`<button data-action="POST /api/wizard/review/undo">Undo delete</button>`)
		}
		b.WriteString(`</div>`)

		if snap.Editing {
			fmt.Fprintf(&b, `<textarea id="raw" rows="20">%s</textarea>`, esc(snap.RawText))
			b.WriteString(`<div class="actions"><button data-raw-save>Save JSON</button>` +
				`<button data-action="POST /api/wizard/review/raw/cancel">Cancel</button></div>`)
			if snap.HasPending {
				b.WriteString(`<p class="note">A newer document is waiting and will load when you close the editor.</p>`)
			}
		} else {
			fmt.Fprintf(&b, `<pre class="raw">%s</pre>`, esc(snap.RawText))
			b.WriteString(`<button data-action="POST /api/wizard/review/raw/begin">Edit JSON</button>`)
		}
		b.WriteString(`<button data-action="POST /api/wizard/review/proceed">Proceed to validation</button>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// Table renders the editable entry table.
func Table(rows []review.Row) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<table class="entries"><thead><tr>`)
		for _, f := range review.Fields {
			fmt.Fprintf(&b, `<th>%s</th>`, esc(f))
		}
		b.WriteString(`<th></th></tr></thead><tbody>`)
		if len(rows) == 0 {
			fmt.Fprintf(&b, `<tr><td colspan="%d">No entries</td></tr>`, len(review.Fields)+1)
		}
		for i, row := range rows {
			b.WriteString(`<tr>`)
			for _, f := range review.Fields {
				fmt.Fprintf(&b, `<td><input data-row="%d" data-field="%s" value="%s"></td>`, i, esc(f), esc(row.Get(f)))
			}
			fmt.Fprintf(&b, `<td><button data-action="DELETE /api/wizard/review/rows/%d">Delete</button></td></tr>`, i)
		}
		b.WriteString(`</tbody></table>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func validatePanel(snap core.Snapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if snap.Report == nil {
			_, err := io.WriteString(w, `<button data-action="POST /api/wizard/validate">Run validation</button>`)
			return err
		}
		if err := Report(*snap.Report).Render(ctx, w); err != nil {
			return err
		}
		actions := `<div class="actions"><button data-action="POST /api/wizard/validate">Run again</button>`
		if snap.CanAdvance {
			actions += `<button data-action="POST /api/wizard/advance">Next</button>`
		}
		_, err := io.WriteString(w, actions+`</div>`)
		return err
	})
}

// Report renders a validation report.
func Report(r validation.Report) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		if r.Fatal() {
			fmt.Fprintf(&b, `<div class="report fatal"><strong>Validation failed:</strong> %s</div>`, esc(r.Error))
			_, err := io.WriteString(w, b.String())
			return err
		}

		fmt.Fprintf(&b, `<div class="report"><p>Score: %.1f%%`, r.Score())
		if r.CompliancePercentage != nil {
			fmt.Fprintf(&b, ` &middot; Compliance: %.1f%%`, r.Compliance())
		}
		if r.TotalChecks > 0 {
			fmt.Fprintf(&b, ` &middot; %d of %d checks passed`, r.PassedChecks, r.TotalChecks)
		}
		b.WriteString(`</p>`)
		writeIssues(&b, "Errors", "errors", r.Errors)
		writeIssues(&b, "Warnings", "warnings", r.Warnings)
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeIssues(b *strings.Builder, title, class string, issues []validation.Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(b, `<h3>%s (%d)</h3><ul class="%s">`, title, len(issues), class)
	for _, is := range issues {
		b.WriteString(`<li>`)
		if is.Resource != "" || is.Field != "" {
			fmt.Fprintf(b, `<code>%s %s</code> `, esc(is.Resource), esc(is.Field))
		}
		b.WriteString(esc(is.Message))
		if is.Remediation != "" {
			fmt.Fprintf(b, ` <em>%s</em>`, esc(is.Remediation))
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ul>`)
}

func downloadPanel(snap core.Snapshot) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<p>%d entries validated.</p>`+
				`<a class="button" href="/api/wizard/download">Download JSON</a> `+
				`<a class="button" href="/api/wizard/download/excel">Download Excel</a>`,
			len(snap.Rows))
		return err
	})
}

// Console renders the side JSON console for the current stage.
func Console(state string, payload map[string]any) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		text, err := document.MarshalString(payload)
		if err != nil {
			text = fmt.Sprintf("console unavailable: %v", err)
		}
		_, err = fmt.Fprintf(w, `<aside class="console"><h3>Console &middot; %s</h3><pre>%s</pre></aside>`,
			esc(state), esc(text))
		return err
	})
}

// ErrorAlert renders a user-facing error with its support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert error" role="alert"><strong>%s</strong> <span>%s</span> <small>Code: %s</small></div>`,
			esc(message), esc(action), esc(code))
		return err
	})
}

const pageHead = `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">` +
	`<meta name="viewport" content="width=device-width, initial-scale=1">` +
	`<title>NHCX Bundle Wizard</title><style>` +
	`body{font-family:system-ui,sans-serif;margin:0 auto;max-width:1200px;padding:1rem}` +
	`header{display:flex;gap:1rem;align-items:center}.backend.up{color:green}.backend.down{color:#b00}` +
	`.steps{display:flex;gap:1rem;list-style:none;padding:0}.steps .current{font-weight:bold}.steps .locked{opacity:.5}` +
	`#wizard{display:grid;grid-template-columns:2fr 1fr;gap:1rem}#wizard>ol,#wizard>.alert{grid-column:1/3}` +
	`.console pre,.raw,.log{background:#111;color:#ddd;padding:.5rem;overflow:auto;max-height:30rem}` +
	`.alert.error{background:#fee;border:1px solid #b00;padding:.5rem}.report.fatal{color:#b00}` +
	`</style></head><body>`

// pageScript wires data-action buttons and the upload form to the JSON API.
const pageScript = `<script>
(function(){
  function reload(){ window.location.reload(); }
  function call(method, url, body){
    var opts = {method: method, headers: {"Accept": "application/json"}};
    if (body !== undefined) { opts.headers["Content-Type"] = "application/json"; opts.body = JSON.stringify(body); }
    return fetch(url, opts).then(reload);
  }
  document.addEventListener("click", function(e){
    var el = e.target.closest("[data-action]");
    if (el) { var p = el.dataset.action.split(" "); call(p[0], p[1]); return; }
    if (e.target.closest("[data-raw-save]")) {
      call("PUT", "/api/wizard/review/raw", {text: document.getElementById("raw").value}).then(function(){
        return call("POST", "/api/wizard/review/raw/save");
      });
    }
  });
  document.addEventListener("change", function(e){
    var el = e.target;
    if (el.dataset && el.dataset.field) {
      call("POST", "/api/wizard/review/cell", {row: Number(el.dataset.row), field: el.dataset.field, value: el.value});
    }
  });
  var form = document.getElementById("upload");
  if (form) form.addEventListener("submit", function(e){
    e.preventDefault();
    fetch("/api/wizard/upload", {method: "POST", body: new FormData(form)}).then(function(res){
      if (!res.ok) { reload(); return; }
      var box = document.getElementById("progress"); box.hidden = false;
      var bar = box.querySelector("progress"), log = box.querySelector(".log");
      var es = new EventSource("/api/wizard/progress");
      es.addEventListener("progress", function(ev){
        var p = JSON.parse(ev.data);
        if (p.total > 0) { bar.value = Math.round(100 * p.current / p.total); }
        log.textContent = (p.log || []).join("\n");
      });
      es.addEventListener("complete", function(){ es.close(); reload(); });
    });
  });
})();
</script>`
