package attendance

import "strings"

// Variables fill a notification template.
type Variables struct {
	Attendant string // {atendente}
	Protocol  string // {protocolo}
	Customer  string // {cliente}
	Phone     string // {telefone}
	Date      string // {data}
	Time      string // {hora}
	Subject   string // {assunto}
}

// RenderTemplate substitutes every known placeholder. Empty values leave the
// placeholder in place, except {assunto} which becomes "N/A".
func RenderTemplate(tpl string, v Variables) string {
	if v.Subject == "" {
		v.Subject = "N/A"
	}
	pairs := make([]string, 0, 14)
	add := func(key, val string) {
		if val != "" {
			pairs = append(pairs, key, val)
		}
	}
	add("{atendente}", v.Attendant)
	add("{protocolo}", v.Protocol)
	add("{cliente}", v.Customer)
	add("{telefone}", v.Phone)
	add("{data}", v.Date)
	add("{hora}", v.Time)
	add("{assunto}", v.Subject)
	return strings.NewReplacer(pairs...).Replace(tpl)
}
