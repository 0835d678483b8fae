package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

// licenseEmailTemplate is the purchase confirmation sent with a fresh
// license key.
var licenseEmailTemplate = template.Must(template.New("license_email").Parse(`
<div style="font-family:Arial,sans-serif; max-width:600px; margin:auto; padding:20px;">
    <h2 style="color:#333;">Thank you for your purchase, {{.CustomerName}}!</h2>

    <p style="font-size:16px; color:#666;">Your {{.ProductName}} license key is ready:</p>

    <div style="background:#667eea; color:white; padding:20px;
                font-family:monospace; font-size:24px; text-align:center;
                border-radius:8px; margin:20px 0; letter-spacing:2px;">
        {{.LicenseKey}}
    </div>

    <div style="background:#f5f5f5; padding:15px; border-radius:8px; margin:20px 0;">
        <p style="margin:5px 0;"><strong>Order ID:</strong> {{.OrderID}}</p>
        <p style="margin:5px 0;"><strong>Expires:</strong> {{.ExpiryDate.Format "2006-01-02"}}</p>
        <p style="margin:5px 0;"><strong>Device Limit:</strong> {{.DeviceLimit}} {{if eq .DeviceLimit 1}}device{{else}}devices{{end}}</p>
    </div>

    <h3 style="color:#333; margin-top:30px;">How to Activate:</h3>
    <ol style="color:#666; line-height:1.8;">
        <li>Download and install {{.ProductName}}</li>
        <li>Launch the application</li>
        <li>Enter your license key when prompted</li>
    </ol>

    <hr style="border:none; border-top:1px solid #ddd; margin:30px 0;">

    <p style="font-size:14px; color:#999;">
        Need help? Contact us at <strong>{{.SupportAddress}}</strong>
    </p>
</div>
`))

type templateData struct {
	LicenseEmail
	SupportAddress string
}

// RenderLicenseEmail produces the HTML body for the license email.
func RenderLicenseEmail(email LicenseEmail, supportAddress string) (string, error) {
	var buf bytes.Buffer
	err := licenseEmailTemplate.Execute(&buf, templateData{
		LicenseEmail:   email,
		SupportAddress: supportAddress,
	})
	if err != nil {
		return "", fmt.Errorf("rendering license email: %w", err)
	}
	return buf.String(), nil
}
