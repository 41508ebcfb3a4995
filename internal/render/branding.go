package render

// Branding is the per-organisation header data printed on every document.
type Branding struct {
	Organization string `envconfig:"BRANDING_ORGANIZATION"`
	Address      string `envconfig:"BRANDING_ADDRESS"`
	Contact      string `envconfig:"BRANDING_CONTACT"`
	Website      string `envconfig:"BRANDING_WEBSITE"`
	LogoPath     string `envconfig:"BRANDING_LOGO"`
}

// Fields exposes the branding under branding.* keys. Empty fields are left
// out so a document value of the same name is not blanked.
func (b Branding) Fields() map[string]string {
	out := make(map[string]string, 4)
	for k, v := range map[string]string{
		"branding.organization": b.Organization,
		"branding.address":      b.Address,
		"branding.contact":      b.Contact,
		"branding.website":      b.Website,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
