package authorize

import "html/template"

type consentScope struct {
	Name        string
	Permissions []string
}

type consentPage struct {
	Action            string
	AppName           string
	AppDescription    string
	ClientID          string
	RedirectURI       string
	State             string
	AuthorizationCode string
	Scopes            []consentScope
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorize {{.AppName}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
            max-width: 480px;
            margin: 60px auto;
            color: #333;
        }
        li { margin: 4px 0; }
        .actions { margin-top: 24px; display: flex; gap: 12px; }
        button { padding: 8px 20px; font-size: 14px; }
    </style>
</head>
<body>
    <h1>Authorize {{.AppName}}</h1>
    {{if .AppDescription}}<p>{{.AppDescription}}</p>{{end}}
    <p>This application is requesting access to:</p>
    <ul>
        {{range .Scopes}}<li><strong>{{.Name}}</strong>{{if .Permissions}} ({{range $i, $p := .Permissions}}{{if $i}}, {{end}}{{$p}}{{end}}){{end}}</li>
        {{end}}
    </ul>
    <form method="POST" action="{{.Action}}">
        <input type="hidden" name="client_id" value="{{.ClientID}}">
        <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
        <input type="hidden" name="state" value="{{.State}}">
        <input type="hidden" name="authorization_code" value="{{.AuthorizationCode}}">
        <div class="actions">
            <button type="submit" name="action" value="authorize">Authorize</button>
            <button type="submit" name="action" value="deny">Deny</button>
        </div>
    </form>
</body>
</html>
`))
