package service

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"

	"github.com/kursadbilgin/courier/internal/domain"
)

// Template names accepted by OutboxService.SendTemplate.
const (
	TemplateWelcome             = "welcome"
	TemplateServiceConfirmation = "service_confirmation"
	TemplateInvoice             = "invoice"
	TemplateOffer               = "offer"
)

const documentContentType = "application/pdf"

type messageTemplate struct {
	required []string
	subject  *texttemplate.Template
	text     *texttemplate.Template
	html     *htmltemplate.Template
	// document names the attachment built from TemplateRequest.Document.
	document *texttemplate.Template
}

// RenderedMessage is a template expanded with caller data.
type RenderedMessage struct {
	Subject    string
	TextBody   string
	HTMLBody   string
	Attachment *domain.Attachment
}

var messageTemplates = map[string]messageTemplate{
	TemplateWelcome: newMessageTemplate(
		[]string{"ClientName"},
		`Welcome to HVAC Solutions, {{.ClientName}}!`,
		`Hello {{.ClientName}},

thank you for choosing HVAC Solutions. Our team is here whenever you need service or advice.

HVAC Solutions {{.Year}}`,
		`<p>Hello {{.ClientName}},</p>
<p>thank you for choosing HVAC Solutions. Our team is here whenever you need service or advice.</p>
<p>HVAC Solutions {{.Year}}</p>`,
		"",
	),
	TemplateServiceConfirmation: newMessageTemplate(
		[]string{"ClientName", "ServiceDate", "ServiceType", "TechnicianName"},
		`Service visit confirmation - {{.ServiceDate}}`,
		`Hello {{.ClientName}},

we confirm your {{.ServiceType}} visit on {{.ServiceDate}}. Your technician will be {{.TechnicianName}}.

HVAC Solutions {{.Year}}`,
		`<p>Hello {{.ClientName}},</p>
<p>we confirm your <strong>{{.ServiceType}}</strong> visit on <strong>{{.ServiceDate}}</strong>.
Your technician will be {{.TechnicianName}}.</p>
<p>HVAC Solutions {{.Year}}</p>`,
		"",
	),
	TemplateInvoice: newMessageTemplate(
		[]string{"ClientName", "InvoiceNumber", "InvoiceDate", "InvoiceAmount"},
		`Invoice {{.InvoiceNumber}}`,
		`Hello {{.ClientName}},

please find attached invoice {{.InvoiceNumber}} dated {{.InvoiceDate}} for {{.InvoiceAmount}}.

HVAC Solutions {{.Year}}`,
		`<p>Hello {{.ClientName}},</p>
<p>please find attached invoice <strong>{{.InvoiceNumber}}</strong> dated {{.InvoiceDate}} for {{.InvoiceAmount}}.</p>
<p>HVAC Solutions {{.Year}}</p>`,
		`Invoice_{{.InvoiceNumber}}.pdf`,
	),
	TemplateOffer: newMessageTemplate(
		[]string{"ClientName", "OfferNumber", "OfferDate", "OfferExpiryDate"},
		`Offer {{.OfferNumber}}`,
		`Hello {{.ClientName}},

please find attached our offer {{.OfferNumber}} from {{.OfferDate}}. It is valid until {{.OfferExpiryDate}}.

HVAC Solutions {{.Year}}`,
		`<p>Hello {{.ClientName}},</p>
<p>please find attached our offer <strong>{{.OfferNumber}}</strong> from {{.OfferDate}}.
It is valid until {{.OfferExpiryDate}}.</p>
<p>HVAC Solutions {{.Year}}</p>`,
		`Offer_{{.OfferNumber}}.pdf`,
	),
}

func newMessageTemplate(required []string, subject, text, html, document string) messageTemplate {
	t := messageTemplate{
		required: required,
		subject:  texttemplate.Must(texttemplate.New("subject").Option("missingkey=error").Parse(subject)),
		text:     texttemplate.Must(texttemplate.New("text").Option("missingkey=error").Parse(text)),
		html:     htmltemplate.Must(htmltemplate.New("html").Option("missingkey=error").Parse(html)),
	}
	if document != "" {
		t.document = texttemplate.Must(texttemplate.New("document").Option("missingkey=error").Parse(document))
	}
	return t
}

// TemplateNames lists the available message templates in name order.
func TemplateNames() []string {
	names := make([]string, 0, len(messageTemplates))
	for name := range messageTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderTemplate expands the named template. Every required key must be present
// and non-blank; document, when given, becomes a PDF attachment for templates
// that carry one.
func RenderTemplate(name string, data map[string]string, document []byte) (*RenderedMessage, error) {
	tmpl, ok := messageTemplates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown template %q", domain.ErrValidation, name)
	}

	values := make(map[string]string, len(data)+1)
	for k, v := range data {
		values[k] = strings.TrimSpace(v)
	}
	for _, key := range tmpl.required {
		if values[key] == "" {
			return nil, fmt.Errorf("%w: template %q requires %s", domain.ErrValidation, name, key)
		}
	}
	if _, ok := values["Year"]; !ok {
		values["Year"] = ""
	}

	var subject, text, html bytes.Buffer
	if err := tmpl.subject.Execute(&subject, values); err != nil {
		return nil, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := tmpl.text.Execute(&text, values); err != nil {
		return nil, fmt.Errorf("render %s text body: %w", name, err)
	}
	if err := tmpl.html.Execute(&html, values); err != nil {
		return nil, fmt.Errorf("render %s html body: %w", name, err)
	}

	rendered := &RenderedMessage{
		Subject:  subject.String(),
		TextBody: text.String(),
		HTMLBody: html.String(),
	}

	if tmpl.document != nil && len(document) > 0 {
		var filename bytes.Buffer
		if err := tmpl.document.Execute(&filename, values); err != nil {
			return nil, fmt.Errorf("render %s document name: %w", name, err)
		}
		rendered.Attachment = &domain.Attachment{
			Filename:    filename.String(),
			Content:     document,
			ContentType: documentContentType,
		}
	}

	return rendered, nil
}
