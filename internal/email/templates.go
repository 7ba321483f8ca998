package email

import (
	"bytes"
	"html/template"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
}

type OrderItem struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderSummary is what every order email renders.
type OrderSummary struct {
	OrderNumber  string
	CustomerName string
	Items        []OrderItem
	Total        decimal.Decimal
}

const layout = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #4c51bf; padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">{{template "title" .}}</h1>
	</div>
	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">Hi {{if .CustomerName}}{{.CustomerName}}{{else}}there{{end}},</p>
		{{template "lead" .}}
		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">{{.OrderNumber}}</p>
		</div>
		{{if .Items}}
		<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left;">Item</th>
					<th style="padding: 12px; text-align: center;">Qty</th>
					<th style="padding: 12px; text-align: right;">Price</th>
					<th style="padding: 12px; text-align: right;">Subtotal</th>
				</tr>
			</thead>
			<tbody>
				{{range .Items}}
				<tr>
					<td style="padding: 12px; border-bottom: 1px solid #eee;">{{.Name}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">{{.Quantity}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">${{.Price.StringFixed 2}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">${{.Subtotal.StringFixed 2}}</td>
				</tr>
				{{end}}
			</tbody>
		</table>
		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #4c51bf; margin-left: 10px;">${{.Total.StringFixed 2}}</span>
		</div>
		{{end}}
		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
		<p style="font-size: 12px; color: #999; margin-bottom: 0;">This is an automated message. Please contact support if you have any questions.</p>
	</div>
</body>
</html>{{end}}`

var templates = map[string]*template.Template{
	"confirmation": mustParse(
		`{{define "title"}}Thank you for your order{{end}}`,
		`{{define "lead"}}<p>We have received your order and reserved your items.</p>{{end}}`,
	),
	"shipped": mustParse(
		`{{define "title"}}Your order is on its way{{end}}`,
		`{{define "lead"}}<p>Good news: your order has been shipped.</p>{{end}}`,
	),
	"cancelled": mustParse(
		`{{define "title"}}Your order was cancelled{{end}}`,
		`{{define "lead"}}<p>Your order has been cancelled. You have not been charged.</p>{{end}}`,
	),
}

func mustParse(parts ...string) *template.Template {
	t := template.Must(template.New("layout").Parse(layout))
	for _, p := range parts {
		template.Must(t.Parse(p))
	}
	return t
}

func render(name, subject string, s OrderSummary) (Message, error) {
	var buf bytes.Buffer
	if err := templates[name].ExecuteTemplate(&buf, "layout", s); err != nil {
		return Message{}, errors.Wrapf(err, "render %s", name)
	}
	return Message{Subject: subject, HTML: buf.String()}, nil
}

func OrderConfirmation(s OrderSummary) (Message, error) {
	return render("confirmation", "Order confirmation ("+s.OrderNumber+")", s)
}

func OrderShipped(s OrderSummary) (Message, error) {
	return render("shipped", "Your order has shipped ("+s.OrderNumber+")", s)
}

func OrderCancelled(s OrderSummary) (Message, error) {
	return render("cancelled", "Your order was cancelled ("+s.OrderNumber+")", s)
}
