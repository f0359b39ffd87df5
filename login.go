package oauth

import (
	"bytes"
	"html/template"
	"net/http"
)

// LoginPage is the data of the credential form shown by GET /oauth/authorize
type LoginPage struct {
	// Action is the URL the form posts to. It carries the original
	// authorization request as its query string.
	Action string

	// Scope is the space-separated scope being requested
	Scope string

	// Resource is the RFC 8707 resource the token will be bound to, if any
	Resource string
}

// ErrorPage is the data of the page shown for errors that cannot be sent
// back to the client's redirect_uri
type ErrorPage struct {
	Error       string
	Description string
}

// LoginRenderer draws the HTML pages of the authorization endpoint. Replace it
// through Config.LoginRenderer to brand the pages.
type LoginRenderer interface {
	RenderLogin(w http.ResponseWriter, r *http.Request, page *LoginPage) error
	RenderError(w http.ResponseWriter, r *http.Request, page *ErrorPage) error
}

const pageStyle = `
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f7; display: flex; justify-content: center; align-items: center; min-height: 100vh; margin: 0; }
    .card { background: #fff; border-radius: 12px; box-shadow: 0 4px 16px rgba(0,0,0,.08); padding: 32px; width: 100%; max-width: 360px; }
    h1 { font-size: 20px; margin: 0 0 16px; }
    p { color: #555; font-size: 14px; }
    label { display: block; font-size: 13px; margin: 12px 0 4px; }
    input { width: 100%; box-sizing: border-box; padding: 10px; border: 1px solid #ccc; border-radius: 6px; }
    button { margin-top: 20px; width: 100%; padding: 10px; border: 0; border-radius: 6px; background: #2563eb; color: #fff; font-size: 15px; cursor: pointer; }
    code { background: #f0f0f0; padding: 2px 4px; border-radius: 4px; }`

var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Sign in</title>
  <style>` + pageStyle + `</style>
</head>
<body>
  <div class="card">
    <h1>Sign in</h1>
    {{if .Scope}}<p>Requested access: <code>{{.Scope}}</code></p>{{end}}
    {{if .Resource}}<p>For: <code>{{.Resource}}</code></p>{{end}}
    <form method="POST" action="{{.Action}}">
      <label for="email">Email</label>
      <input id="email" name="email" type="email" autocomplete="username" required autofocus>
      <label for="password">Password</label>
      <input id="password" name="password" type="password" autocomplete="current-password" required>
      <button type="submit">Continue</button>
    </form>
  </div>
</body>
</html>`))

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Authorization error</title>
  <style>` + pageStyle + `</style>
</head>
<body>
  <div class="card">
    <h1>Authorization failed</h1>
    <p><code>{{.Error}}</code></p>
    {{if .Description}}<p>{{.Description}}</p>{{end}}
    <p>You can close this window and try again from your application.</p>
  </div>
</body>
</html>`))

type templateRenderer struct{}

// DefaultLoginRenderer returns the built-in pages
func DefaultLoginRenderer() LoginRenderer {
	return templateRenderer{}
}

func (templateRenderer) RenderLogin(w http.ResponseWriter, _ *http.Request, page *LoginPage) error {
	return renderTemplate(w, loginTmpl, http.StatusOK, page)
}

func (templateRenderer) RenderError(w http.ResponseWriter, _ *http.Request, page *ErrorPage) error {
	return renderTemplate(w, errorTmpl, http.StatusBadRequest, page)
}

// renderTemplate executes into a buffer first so a template failure does not
// leave a half-written page behind
func renderTemplate(w http.ResponseWriter, tmpl *template.Template, status int, data any) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
