package content

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"horoscope_dispatcher/internal/domain/notification"
)

// Message is a reading formatted for every channel.
type Message struct {
	Subject  string
	Text     string
	HTML     string
	SMS      string
	Metadata map[string]string
}

type RenderOptions struct {
	UnsubscribeURL string
}

const emailHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;background-color:#f5f5f5;">
  <table width="100%" cellpadding="0" cellspacing="0" style="background-color:#f5f5f5;padding:20px;">
    <tr><td align="center">
      <table width="600" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:10px;box-shadow:0 2px 10px rgba(0,0,0,0.1);">
        <tr><td style="background:linear-gradient(135deg,#667eea 0%,#764ba2 100%);padding:30px;text-align:center;border-radius:10px 10px 0 0;">
          <h1 style="color:#ffffff;margin:0;font-size:28px;">{{.Heading}}</h1>
        </td></tr>
        <tr><td style="padding:40px 30px;">
          <h2 style="color:#333;margin-top:0;">Dear {{.Greeting}},</h2>
          <div style="color:#555;line-height:1.8;font-size:16px;margin:20px 0;">{{.Text}}</div>
          {{if .CasualClose}}<p style="color:#555;font-size:15px;font-style:italic;">{{.CasualClose}}</p>{{end}}
        </td></tr>
        <tr><td style="padding:0 30px 40px 30px;">
          <table width="100%" cellpadding="15" cellspacing="0" style="background-color:#f9f9f9;border-radius:8px;">
            <tr><td>
              <div style="margin-bottom:15px;"><span style="color:#667eea;font-weight:bold;">Lucky Color:</span> <span style="color:#333;">{{.Decor.LuckyColor}}</span></div>
              <div style="margin-bottom:15px;"><span style="color:#667eea;font-weight:bold;">{{.Labels.Mantra}}:</span> <span style="color:#333;font-style:italic;">"{{.Decor.Mantra}}"</span></div>
              <div><span style="color:#667eea;font-weight:bold;">{{.Labels.Focus}}:</span> <span style="color:#333;">{{.Decor.Focus}}</span></div>
            </td></tr>
          </table>
        </td></tr>
        <tr><td style="padding:20px 30px;text-align:center;border-top:1px solid #eee;">
          <p style="color:#999;font-size:14px;margin:0;">{{.Labels.Farewell}}</p>
          {{if .UnsubscribeURL}}<p style="font-size:12px;margin:10px 0 0 0;"><a href="{{.UnsubscribeURL}}" style="color:#999;">Unsubscribe</a></p>{{end}}
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`

var emailTemplate = template.Must(template.New("reading").Parse(emailHTML))

type labels struct {
	Heading  string
	Mantra   string
	Focus    string
	Farewell string
}

var (
	singleLabels  = labels{Heading: "Your Daily Horoscope", Mantra: "Today's Mantra", Focus: "Daily Focus", Farewell: "Wishing you a beautiful day ahead!"}
	eveningLabels = labels{Heading: "Your Evening Reflection", Mantra: "Today's Mantra", Focus: "Daily Focus", Farewell: "Wishing you a beautiful day ahead!"}
	couplesLabels = labels{Heading: "Your Couples Horoscope", Mantra: "Shared Mantra", Focus: "Relationship Focus", Farewell: "Wishing you both love and happiness!"}
)

func labelsFor(r Reading) labels {
	switch {
	case r.Tier == notification.TierEvening:
		return eveningLabels
	case r.Partner != nil:
		return couplesLabels
	default:
		return singleLabels
	}
}

// greeting names both partners on couples readings.
func greeting(r Reading) string {
	if r.Partner != nil {
		return r.Name + " & " + r.Partner.Name
	}
	return r.Name
}

// Render formats r for email and SMS.
func Render(r Reading, opts RenderOptions) (Message, error) {
	lb := labelsFor(r)
	heading := lb.Heading
	subject := fmt.Sprintf("%s, %s", heading, greeting(r))

	var html bytes.Buffer
	err := emailTemplate.Execute(&html, struct {
		Reading
		Heading        string
		Greeting       string
		Labels         labels
		UnsubscribeURL string
	}{r, heading, greeting(r), lb, opts.UnsubscribeURL})
	if err != nil {
		return Message{}, fmt.Errorf("rendering email: %w", err)
	}

	msg := Message{
		Subject: subject,
		Text:    plainText(r, lb, opts),
		HTML:    html.String(),
		SMS:     smsText(r, opts),
		Metadata: map[string]string{
			"sign":        string(r.Sign),
			"tier":        string(r.Tier),
			"pattern":     r.PatternID,
			"strategy":    r.Strategy,
			"friction":    strconv.FormatBool(r.Friction),
			"lucky_color": r.Decor.LuckyColor,
			"mantra":      r.Decor.Mantra,
			"focus":       r.Decor.Focus,
		},
	}
	if r.Partner != nil {
		msg.Metadata["partner_sign"] = string(r.Partner.Sign)
	}
	return msg, nil
}

func plainText(r Reading, lb labels, opts RenderOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", strings.ToUpper(lb.Heading))
	fmt.Fprintf(&b, "Dear %s,\n\n", greeting(r))
	fmt.Fprintf(&b, "%s\n\n", r.Text)
	if r.CasualClose != "" {
		fmt.Fprintf(&b, "%s\n\n", r.CasualClose)
	}
	b.WriteString("--------------------------\n\n")
	fmt.Fprintf(&b, "Lucky Color: %s\n", r.Decor.LuckyColor)
	fmt.Fprintf(&b, "%s: %q\n", lb.Mantra, r.Decor.Mantra)
	fmt.Fprintf(&b, "%s: %s\n\n", lb.Focus, r.Decor.Focus)
	b.WriteString(lb.Farewell)
	if opts.UnsubscribeURL != "" {
		fmt.Fprintf(&b, "\n\nUnsubscribe: %s", opts.UnsubscribeURL)
	}
	return b.String()
}

func smsText(r Reading, opts RenderOptions) string {
	var b strings.Builder
	switch {
	case r.Tier == notification.TierEvening:
		fmt.Fprintf(&b, "Evening note for %s\n\n", r.Name)
	case r.Partner != nil:
		fmt.Fprintf(&b, "Couples Horoscope for %s\n\n", greeting(r))
	default:
		fmt.Fprintf(&b, "Daily Horoscope for %s\n\n", r.Name)
	}
	b.WriteString(r.Text)
	if r.CasualClose != "" {
		b.WriteString(" " + r.CasualClose)
	}
	fmt.Fprintf(&b, "\n\nLucky Color: %s\nMantra: %s\nFocus: %s", r.Decor.LuckyColor, r.Decor.Mantra, r.Decor.Focus)
	if opts.UnsubscribeURL != "" {
		fmt.Fprintf(&b, "\nStop: %s", opts.UnsubscribeURL)
	}
	return b.String()
}
