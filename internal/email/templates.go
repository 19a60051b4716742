package email

import (
	"fmt"
	"html"

	"medminder/pkg/models"
)

// MedicationAlertTemplate renders the caregiver alert email.
func MedicationAlertTemplate(caregiverName string, a models.Alert) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; background-color: #f4f4f4; margin: 0; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { background-color: #DC3545; color: white; padding: 20px; text-align: center; }
        .header h1 { margin: 0; font-size: 24px; }
        .content { padding: 30px; }
        .critical-box { background-color: #F8D7DA; border-left: 4px solid #DC3545; padding: 15px; margin: 20px 0; }
        .footer { background-color: #f8f9fa; padding: 15px; text-align: center; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>🚨 Medication Alert</h1>
        </div>
        <div class="content">
            <p>Hello <strong>%s</strong>,</p>

            <div class="critical-box">
                <strong>%s</strong>
            </div>

            <p><strong>Patient:</strong> %s</p>
            <p><strong>Reason:</strong> %s</p>
            <p><strong>Time:</strong> %s</p>

            <p>Please check on the patient as soon as possible.</p>
        </div>
        <div class="footer">
            <p>This is an automatic message from the medication reminder device.</p>
            <p>Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
    `,
		html.EscapeString(caregiverName),
		html.EscapeString(a.Message),
		html.EscapeString(a.PatientName),
		html.EscapeString(a.Reason),
		a.Timestamp.Format("02/01/2006 15:04"),
	)
}
