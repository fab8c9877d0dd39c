package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"strings"
	"time"
	_ "time/tzdata"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"storefront/internal/mail"
	"storefront/internal/models"
	"storefront/internal/pricing"
)

// Content renders notification emails.
type Content struct {
	storeName string
	currency  string
	location  *time.Location
	printer   *message.Printer
}

// NewContent builds a renderer. An unknown timezone falls back to UTC.
func NewContent(storeName, currencySymbol, timezone string) *Content {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Printf("[NOTIFY] [WARN] unknown timezone %q, using UTC", timezone)
		loc = time.UTC
	}
	return &Content{
		storeName: storeName,
		currency:  currencySymbol,
		location:  loc,
		printer:   message.NewPrinter(language.English),
	}
}

// OrderNumber is the short customer-facing reference of an order.
func OrderNumber(id primitive.ObjectID) string {
	hex := id.Hex()
	return "#" + strings.ToUpper(hex[len(hex)-6:])
}

// Money formats an amount with digit grouping and two decimals.
func (c *Content) Money(amount float64) string {
	return c.currency + c.printer.Sprintf("%.2f", amount)
}

// Date formats t in the store's timezone.
func (c *Content) Date(t time.Time) string {
	return t.In(c.location).Format("02 Jan 2006, 03:04 PM")
}

type lineView struct {
	Name     string
	Quantity int
	Price    string
	Subtotal string
}

type orderView struct {
	Store    string
	Number   string
	Date     string
	Customer string
	Status   string
	Total    string
	Shipping models.ShippingInfo
	Lines    []lineView
}

func (c *Content) view(order models.Order, recipientName string) orderView {
	lines := make([]lineView, 0, len(order.Items))
	for _, item := range order.Items {
		effective := pricing.LineEffectivePrice(item)
		lines = append(lines, lineView{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    c.Money(effective),
			Subtotal: c.Money(effective * float64(item.Quantity)),
		})
	}
	return orderView{
		Store:    c.storeName,
		Number:   OrderNumber(order.ID),
		Date:     c.Date(order.CreatedAt),
		Customer: recipientName,
		Status:   string(order.Status),
		Total:    c.Money(order.TotalPrice),
		Shipping: order.Shipping,
		Lines:    lines,
	}
}

// OwnerAlert tells an owner a new order arrived.
func (c *Content) OwnerAlert(order models.Order, owner models.User) (mail.Message, error) {
	v := c.view(order, customerName(order))
	html, err := render(ownerAlertTmpl, v)
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{
		To:      owner.Email,
		Subject: fmt.Sprintf("New order %s - %s", v.Number, v.Total),
		HTML:    html,
		Text:    fmt.Sprintf("New order %s from %s for %s placed on %s.", v.Number, v.Customer, v.Total, v.Date),
	}, nil
}

// CustomerReceipt thanks the customer for a placed order.
func (c *Content) CustomerReceipt(order models.Order, customer models.OrderCustomer) (mail.Message, error) {
	v := c.view(order, customer.Name)
	html, err := render(receiptTmpl, v)
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{
		To:      customer.Email,
		Subject: fmt.Sprintf("Thank you for your order %s", v.Number),
		HTML:    html,
		Text:    fmt.Sprintf("Thank you for shopping with %s. Your order %s totalling %s has been received.", v.Store, v.Number, v.Total),
	}, nil
}

// StatusReceipt tells the customer their order moved to a new status.
func (c *Content) StatusReceipt(order models.Order, customer models.OrderCustomer) (mail.Message, error) {
	v := c.view(order, customer.Name)
	html, err := render(statusTmpl, v)
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{
		To:      customer.Email,
		Subject: fmt.Sprintf("Your order %s is now %s", v.Number, v.Status),
		HTML:    html,
		Text:    fmt.Sprintf("Your order %s is now %s.", v.Number, v.Status),
	}, nil
}

func customerName(order models.Order) string {
	if order.Customer != nil && order.Customer.Name != "" {
		return order.Customer.Name
	}
	return order.Shipping.Name
}

func render(tmpl *template.Template, v orderView) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const linesPartial = `{{define "lines"}}<table>
<tr><th>Item</th><th>Qty</th><th>Price</th><th>Subtotal</th></tr>
{{range .Lines}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.Price}}</td><td>{{.Subtotal}}</td></tr>
{{end}}<tr><td colspan="3"><strong>Total</strong></td><td><strong>{{.Total}}</strong></td></tr>
</table>{{end}}`

var (
	ownerAlertTmpl = template.Must(template.New("owner").Parse(linesPartial + `
<h2>New order {{.Number}}</h2>
<p>{{.Customer}} placed an order on {{.Date}}.</p>
{{template "lines" .}}
<p>Ship to: {{.Shipping.Name}}, {{.Shipping.Address}} {{.Shipping.City}} {{.Shipping.Pincode}} ({{.Shipping.Phone}})</p>`))

	receiptTmpl = template.Must(template.New("receipt").Parse(linesPartial + `
<h2>Thank you, {{.Customer}}!</h2>
<p>We received your order {{.Number}} on {{.Date}}.</p>
{{template "lines" .}}
<p>{{.Store}}</p>`))

	statusTmpl = template.Must(template.New("status").Parse(`
<h2>Order {{.Number}} update</h2>
<p>Hi {{.Customer}}, your order placed on {{.Date}} is now <strong>{{.Status}}</strong>.</p>
<p>Order total: {{.Total}}</p>
<p>{{.Store}}</p>`))
)
