// Package portalhtml renders the portal's HTML pages. Styling is inline so
// the portal serves no static assets. All dynamic values pass through
// html/template's contextual escaping.
package portalhtml

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/relaybot/relay/internal/application/portal"
)

// Renderer holds the parsed page templates.
type Renderer struct {
	dashboard *template.Template
	errorPage *template.Template

	now func() time.Time
}

// NewRenderer parses the embedded templates. Parse errors are programmer
// errors and panic at startup.
func NewRenderer() *Renderer {
	return &Renderer{
		dashboard: template.Must(template.New("dashboard").Parse(dashboardTemplate)),
		errorPage: template.Must(template.New("error").Parse(errorTemplate)),
		now:       time.Now,
	}
}

type providerCard struct {
	DisplayName  string
	Connected    bool
	StatusText   string
	StatusColor  string
	AuthorizeURL string
	RevokeURL    string
	Token        string
	ConnectedAt  string
	Validity     string
}

type dashboardData struct {
	UserLabel     string
	JustConnected string
	Providers     []providerCard
}

// RenderDashboard writes the dashboard page for the assembled view.
func (r *Renderer) RenderDashboard(w io.Writer, view *portal.DashboardView) error {
	data := dashboardData{
		UserLabel: view.DisplayName,
		Providers: make([]providerCard, 0, len(view.Providers)),
	}
	if data.UserLabel == "" {
		data.UserLabel = view.UserID
	}

	for _, p := range view.Providers {
		card := providerCard{
			DisplayName:  p.DisplayName,
			Connected:    p.Connected,
			StatusText:   "Not connected",
			StatusColor:  "#6B7280",
			AuthorizeURL: p.AuthorizeURL,
			RevokeURL:    "/revoke/" + p.Name,
			Token:        view.Token,
		}
		if p.Connected {
			card.StatusText = "Connected"
			card.StatusColor = "#10B981"
			if p.ConnectedAt > 0 {
				card.ConnectedAt = time.Unix(p.ConnectedAt, 0).UTC().Format("Jan 02, 2006 at 3:04 PM UTC")
			}
			card.Validity = r.tokenValidity(p.TokenExpiresAt)
		}
		if p.JustConnected {
			data.JustConnected = p.DisplayName
		}
		data.Providers = append(data.Providers, card)
	}

	return r.dashboard.Execute(w, data)
}

func (r *Renderer) tokenValidity(expiresAt int64) string {
	if expiresAt == 0 {
		return "Token valid for ~1 hour"
	}
	remaining := expiresAt - r.now().Unix()
	if remaining <= 0 {
		return "Token expired"
	}
	return fmt.Sprintf("Token valid for %d minutes", remaining/60)
}

// RenderError writes the error page. The message must already be safe for
// user display; callers pass it through the error taxonomy's UserMessage.
func (r *Renderer) RenderError(w io.Writer, message string) error {
	return r.errorPage.Execute(w, struct{ Message string }{Message: message})
}

const dashboardTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Relay Auth Portal</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            padding: 20px;
        }
        .container {
            background: white;
            border-radius: 16px;
            box-shadow: 0 20px 60px rgba(0, 0, 0, 0.3);
            max-width: 600px;
            width: 100%;
            padding: 40px;
        }
        .header { text-align: center; margin-bottom: 40px; }
        .logo {
            width: 60px; height: 60px;
            background-color: #4ECDC4;
            border-radius: 12px;
            display: inline-flex;
            align-items: center;
            justify-content: center;
            font-size: 32px;
            margin-bottom: 16px;
        }
        h1 { color: #1F2937; font-size: 28px; margin-bottom: 8px; }
        .subtitle { color: #6B7280; font-size: 14px; }
        .provider-card {
            background: #F9FAFB;
            border: 1px solid #E5E7EB;
            border-radius: 12px;
            padding: 24px;
            margin-bottom: 16px;
        }
        .provider-header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            margin-bottom: 16px;
        }
        .provider-header h3 { color: #1F2937; font-size: 18px; font-weight: 600; }
        .provider-header-actions { display: flex; align-items: center; gap: 8px; }
        .status-badge {
            display: inline-block;
            padding: 8px 16px;
            border-radius: 8px;
            font-size: 13px;
            font-weight: 600;
            color: white;
        }
        .btn {
            display: inline-block;
            padding: 8px 16px;
            border-radius: 8px;
            font-size: 13px;
            font-weight: 600;
            text-decoration: none;
            border: none;
            cursor: pointer;
        }
        .btn-authorize { background-color: #4ECDC4; color: white; }
        .btn-revoke { background-color: #EF4444; color: white; }
        .note {
            background: #FEF3C7;
            border-left: 4px solid #F59E0B;
            padding: 16px;
            border-radius: 8px;
            margin-top: 24px;
        }
        .note p { color: #92400E; font-size: 14px; line-height: 1.5; }
        .success-banner {
            background: #D1FAE5;
            border-left: 4px solid #10B981;
            padding: 16px;
            border-radius: 8px;
            margin-bottom: 24px;
        }
        .success-banner p { color: #065F46; font-size: 14px; line-height: 1.5; }
        .connected-info { color: #6B7280; font-size: 12px; margin-top: 4px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <div class="logo">&#129302;</div>
            <h1>Relay Auth Portal</h1>
            <p class="subtitle">User: {{.UserLabel}}</p>
        </div>
{{if .JustConnected}}
        <div class="success-banner">
            <p><strong>{{.JustConnected}}</strong> has been successfully connected! You can now return to chat and use write commands.</p>
        </div>
{{end}}
        <div class="providers">
{{range .Providers}}
            <div class="provider-card">
                <div class="provider-header">
                    <h3>{{.DisplayName}}</h3>
                    <div class="provider-header-actions">
                        <span class="status-badge" style="background-color: {{.StatusColor}};">{{.StatusText}}</span>
{{if .Connected}}
                        <form method="POST" action="{{.RevokeURL}}" style="margin: 0;">
                            <input type="hidden" name="token" value="{{.Token}}">
                            <button type="submit" class="btn btn-revoke">Revoke Access</button>
                        </form>
{{else}}
                        <a href="{{.AuthorizeURL}}" class="btn btn-authorize">Authorize</a>
{{end}}
                    </div>
                </div>
{{if .ConnectedAt}}
                <p class="connected-info">Connected on {{.ConnectedAt}}</p>
{{end}}
{{if .Validity}}
                <p class="connected-info">{{.Validity}}</p>
{{end}}
            </div>
{{end}}
        </div>
        <div class="note">
            <p>
                <strong>Note:</strong> After authorizing, return to chat and retry your command.
                Your connection persists across sessions, so you only need to authorize once.
            </p>
        </div>
    </div>
</body>
</html>
`

const errorTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorization Error</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: linear-gradient(135deg, #EF4444 0%, #DC2626 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            padding: 20px;
        }
        .container {
            background: white;
            border-radius: 16px;
            box-shadow: 0 20px 60px rgba(0, 0, 0, 0.3);
            max-width: 500px;
            width: 100%;
            padding: 60px 40px;
            text-align: center;
        }
        .error-icon {
            width: 80px; height: 80px;
            background-color: #EF4444;
            border-radius: 50%;
            display: inline-flex;
            align-items: center;
            justify-content: center;
            font-size: 48px;
            margin-bottom: 24px;
            color: white;
        }
        h1 { color: #1F2937; font-size: 32px; margin-bottom: 16px; }
        p { color: #6B7280; font-size: 16px; line-height: 1.6; }
        .error-message {
            background: #FEE2E2;
            border-left: 4px solid #EF4444;
            padding: 16px;
            border-radius: 8px;
            margin: 24px 0;
            text-align: left;
        }
        .error-message p {
            color: #991B1B;
            font-size: 14px;
            font-family: monospace;
            word-break: break-word;
        }
        .btn {
            display: inline-block;
            padding: 12px 32px;
            background-color: #4ECDC4;
            color: white;
            text-decoration: none;
            border-radius: 8px;
            font-size: 16px;
            font-weight: 600;
            margin-top: 16px;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="error-icon">&#10007;</div>
        <h1>Authorization Failed</h1>
        <p>We encountered an error while processing your authorization.</p>
        <div class="error-message">
            <p>{{.Message}}</p>
        </div>
        <a href="javascript:history.back()" class="btn">Go Back</a>
    </div>
</body>
</html>
`
