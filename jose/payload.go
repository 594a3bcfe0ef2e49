package jose

import (
	"time"

	"github.com/tidwall/gjson"
)

// Payload is the verified or decrypted JSON claims object of a JOSE value.
type Payload struct {
	raw []byte
}

// newPayload wraps b when it is a JSON object.
func newPayload(b []byte) *Payload {
	if !gjson.ValidBytes(b) {
		return nil
	}
	if !gjson.ParseBytes(b).IsObject() {
		return nil
	}
	return &Payload{raw: b}
}

// Raw returns the claims JSON.
func (p *Payload) Raw() []byte {
	return p.raw
}

// Get looks up a gjson path such as "address.country" or "roles.0".
func (p *Payload) Get(path string) gjson.Result {
	return gjson.GetBytes(p.raw, path)
}

// Claims decodes the whole payload.
func (p *Payload) Claims() map[string]any {
	m, _ := gjson.ParseBytes(p.raw).Value().(map[string]any)
	return m
}

// Claim returns the top-level claim called name, which may contain dots.
func (p *Payload) Claim(name string) gjson.Result {
	return gjson.GetBytes(p.raw, gjson.Escape(name))
}

// StringValues returns the top-level claim called name as strings: a string
// claim yields one value, an array yields one value per element.
func (p *Payload) StringValues(name string) []string {
	res := p.Claim(name)
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	if !res.IsArray() {
		return []string{res.String()}
	}
	items := res.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}

// Issuer returns the iss claim
func (p *Payload) Issuer() string {
	return p.Claim("iss").String()
}

// Subject returns the sub claim
func (p *Payload) Subject() string {
	return p.Claim("sub").String()
}

// Audience returns the aud claim, which may be a string or an array.
func (p *Payload) Audience() []string {
	return p.StringValues("aud")
}

// ExpiresAt returns the exp claim, or the zero time when it is absent.
func (p *Payload) ExpiresAt() time.Time {
	return p.numericDate("exp")
}

// IssuedAt returns the iat claim, or the zero time when it is absent.
func (p *Payload) IssuedAt() time.Time {
	return p.numericDate("iat")
}

// ID returns the jti claim
func (p *Payload) ID() string {
	return p.Claim("jti").String()
}

func (p *Payload) numericDate(name string) time.Time {
	res := p.Claim(name)
	if res.Type != gjson.Number {
		return time.Time{}
	}
	return time.Unix(res.Int(), 0)
}
