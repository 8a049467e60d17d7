package mail

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// Purpose selects the wording of a one-time code email.
type Purpose string

const (
	PurposeRegistration  Purpose = "registration"
	PurposePasswordReset Purpose = "password_reset"
)

var codeTemplate = template.Must(template.New("code").Parse(`Hello,

{{.Intro}}

    {{.Code}}

The code expires in {{.Minutes}} minutes. If you did not request it, you can ignore this email.

TeaTalks
`))

// CodeMessage renders the email carrying a one-time verification code.
func CodeMessage(purpose Purpose, to, code string, ttl time.Duration) (Message, error) {
	subject := "Verify your TeaTalks account"
	intro := "Use the code below to finish creating your TeaTalks account."
	if purpose == PurposePasswordReset {
		subject = "Reset your TeaTalks password"
		intro = "Use the code below to reset your TeaTalks password."
	}

	var body bytes.Buffer
	err := codeTemplate.Execute(&body, map[string]any{
		"Intro":   intro,
		"Code":    code,
		"Minutes": int(ttl.Round(time.Minute) / time.Minute),
	})
	if err != nil {
		return Message{}, fmt.Errorf("mail: render %s message: %w", purpose, err)
	}

	return Message{
		To:      []string{to},
		Subject: subject,
		Body:    body.String(),
	}, nil
}
