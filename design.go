package goswrcache

import (
	"context"
	"encoding/json"
)

// DesignSettings are the editable theme and contact settings of the public site.
type DesignSettings struct {
	SiteTitle       string `json:"siteTitle"`
	SiteDescription string `json:"siteDescription"`
	PrimaryColor    string `json:"primaryColor"`
	HeroTitle       string `json:"heroTitle"`
	HeroSubtitle    string `json:"heroSubtitle"`
	HeroButton1     string `json:"heroButton1"`
	HeroButton2     string `json:"heroButton2"`
	HeroImage       string `json:"heroImage"`
	Phone           string `json:"phone"`
	WhatsApp        string `json:"whatsapp"`
	Email           string `json:"email"`
	Email2          string `json:"email2"`
	Address         string `json:"address"`
	FooterText      string `json:"footerText"`
	Logo            string `json:"logo"`
	Favicon         string `json:"favicon"`
}

// DefaultDesignSettings is shown until the stored settings are known.
func DefaultDesignSettings() DesignSettings {
	return DesignSettings{
		SiteTitle:       "Home Care",
		SiteDescription: "Professional patient and elderly care services",
		PrimaryColor:    "#0ea5e9",
		HeroTitle:       "Professional Patient & Elderly Care",
		HeroSubtitle:    "We provide the best care for your loved ones. Our experienced and trusted team is by your side.",
		HeroButton1:     "Contact Us",
		HeroButton2:     "Our Services",
		Phone:           "+90 (555) 123 45 67",
		Email:           "info@homecare.example",
		Email2:          "support@homecare.example",
		Address:         "Example District, Care Street No:123\nIstanbul, Turkey",
		FooterText:      "Professional patient and elderly care services, always by your side.",
	}
}

// DesignSettings resolves the site settings and overlays them on the defaults, so a
// partially stored document still renders every field. On error the defaults are
// returned together with the error.
func (c *Client) DesignSettings(ctx context.Context) (DesignSettings, error) {
	out := DefaultDesignSettings()

	v, err := c.Resolve(ctx, KeyDesign)
	if err != nil {
		return out, err
	}

	return overlayDesign(out, v), nil
}

// overlayDesign decodes v over base: fields present in v win, absent ones keep the
// base value. An undecodable v leaves base untouched.
func overlayDesign(base DesignSettings, v json.RawMessage) DesignSettings {
	out := base
	if err := json.Unmarshal(v, &out); err != nil {
		return base
	}
	return out
}
