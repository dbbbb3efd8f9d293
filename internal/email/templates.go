package email

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// DeadLetterAlert is the data rendered into a dead-letter alert mail.
type DeadLetterAlert struct {
	OutboxID       string
	OrganizationID string
	EventType      string
	Target         string
	Attempts       int
	LastStatusCode *int
	LastError      string
	FailedAt       time.Time
	ArchiveKey     string
}

var deadLetterTemplate = template.Must(template.New("dead_letter").Funcs(template.FuncMap{
	"deref": func(v *int) int { return *v },
}).Parse(`An outbox message exhausted its delivery attempts.

Message:      {{.OutboxID}}
Organization: {{.OrganizationID}}
Event:        {{.EventType}}
Target:       {{.Target}}
Attempts:     {{.Attempts}}
{{- if .LastStatusCode}}
Last status:  {{deref .LastStatusCode}}
{{- end}}
Failed at:    {{.FailedAt.Format "2006-01-02 15:04:05 MST"}}
{{- if .ArchiveKey}}
Archived as:  {{.ArchiveKey}}
{{- end}}

Last error:
{{.LastError}}

Requeue it from the admin API once the target is healthy again.
`))

func renderDeadLetter(alert DeadLetterAlert) (string, error) {
	var buf bytes.Buffer
	if err := deadLetterTemplate.Execute(&buf, alert); err != nil {
		return "", fmt.Errorf("execute dead letter template: %w", err)
	}
	return buf.String(), nil
}
