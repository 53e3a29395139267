package email

// BaseTemplate wraps every message body.
const BaseTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { margin: 0; font-family: Arial, sans-serif; background-color: #111418; color: #ffffff; }
        .container { max-width: 600px; margin: 0 auto; padding: 32px 16px; }
        .card { background: #1c2128; border-radius: 12px; padding: 28px; }
        h2 { margin: 0 0 16px; }
        p { color: #9aa4ad; line-height: 1.6; }
        .btn { display: inline-block; background: #f59e0b; color: #111418 !important; padding: 12px 24px; border-radius: 8px; text-decoration: none; font-weight: 600; }
        .coins { color: #f59e0b; font-weight: 700; }
    </style>
</head>
<body>
    <div class="container">
        <div class="card">
            {{.Content}}
        </div>
    </div>
</body>
</html>
`

const WithdrawalApprovedTemplate = `
<h2>Your withdrawal was approved</h2>
<p>Hi {{.UserName}}, your withdrawal of <span class="coins">{{.Amount}} coins</span> via {{.Method}} has been approved and will be paid out shortly.</p>
<p><a class="btn" href="{{.WalletURL}}">Open wallet</a></p>
`

const WithdrawalRejectedTemplate = `
<h2>Your withdrawal was not approved</h2>
<p>Hi {{.UserName}}, your withdrawal of <span class="coins">{{.Amount}} coins</span> was rejected.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
<p>The coins have been returned to your balance.</p>
<p><a class="btn" href="{{.WalletURL}}">Open wallet</a></p>
`

const PasswordResetTemplate = `
<h2>Reset your password</h2>
<p>Hi {{.UserName}}, we received a request to reset your password. The link is valid for one hour.</p>
<p><a class="btn" href="{{.ResetURL}}">Reset password</a></p>
<p>If you did not request this, you can ignore this email.</p>
`
