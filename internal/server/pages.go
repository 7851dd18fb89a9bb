package server

import "html/template"

// resultPage renders the outcome of the callback. Token values are shown
// once here and nowhere else.
var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>withings-auth</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #f5f5f5;
    color: #1a1a1a;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
  }
  .card {
    background: #fff;
    border: 1px solid #e0e0e0;
    border-radius: 8px;
    padding: 2.5rem 2rem;
    width: 100%;
    max-width: 640px;
    box-shadow: 0 1px 3px rgba(0,0,0,0.06);
  }
  .card h1 { font-size: 1.25rem; font-weight: 600; margin-bottom: 0.25rem; }
  .card p.sub { font-size: 0.85rem; color: #666; margin-bottom: 1.5rem; }
  dl { font-size: 0.85rem; }
  dt { font-weight: 500; margin-top: 0.75rem; }
  dd code {
    display: block;
    background: #f8f9fa;
    border: 1px solid #e0e0e0;
    border-radius: 6px;
    padding: 0.4rem 0.6rem;
    word-break: break-all;
  }
  .error {
    background: #fef2f2;
    color: #991b1b;
    border: 1px solid #fecaca;
    border-radius: 6px;
    padding: 0.6rem 0.75rem;
    font-size: 0.85rem;
  }
</style>
</head>
<body>
<div class="card">
{{if .Error}}
  <h1>Authorization failed</h1>
  <p class="sub">Withings did not issue tokens.</p>
  <div class="error">{{.Error}}</div>
{{else}}
  <h1>Authorization complete</h1>
  <p class="sub">Copy these values now. They are not stored and will not be shown again.</p>
  <dl>
    <dt>Access token</dt><dd><code>{{.Result.AccessToken}}</code></dd>
    {{if .Result.RefreshToken}}<dt>Refresh token</dt><dd><code>{{.Result.RefreshToken}}</code></dd>{{end}}
    <dt>Token type</dt><dd><code>{{.Result.TokenType}}</code></dd>
    {{if .Result.ExpiresIn}}<dt>Expires in (seconds)</dt><dd><code>{{.Result.ExpiresIn}}</code></dd>{{end}}
    {{if .Result.Scope}}<dt>Scope</dt><dd><code>{{.Result.Scope}}</code></dd>{{end}}
    {{if .Result.UserID}}<dt>User ID</dt><dd><code>{{.Result.UserID}}</code></dd>{{end}}
  </dl>
{{end}}
</div>
</body>
</html>
`))
