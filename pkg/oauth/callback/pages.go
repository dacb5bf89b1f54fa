package callback

import "html/template"

type errorPage struct {
	Error       string
	Description string
}

type successPage struct {
	Code  string
	State string
}

const pageStyle = `
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
            max-width: 560px;
            margin: 60px auto;
            color: #333;
            line-height: 1.6;
        }
        code {
            display: block;
            padding: 12px;
            background: #f5f5f5;
            word-break: break-all;
        }
    </style>`

var errorTemplate = template.Must(template.New("callback-error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authorization Failed</title>` + pageStyle + `
</head>
<body>
    <h1>Authorization failed</h1>
    <p><strong>{{.Error}}</strong></p>
    {{if .Description}}<p>{{.Description}}</p>{{end}}
</body>
</html>
`))

var successTemplate = template.Must(template.New("callback-success").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authorization Complete</title>` + pageStyle + `
</head>
<body>
    <h1>Authorization complete</h1>
    <p>Copy this authorization code into your application:</p>
    <code id="code">{{.Code}}</code>
    {{if .State}}<p>State:</p>
    <code id="state">{{.State}}</code>{{end}}
</body>
</html>
`))
