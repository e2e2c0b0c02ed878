package dashboard

// overviewTemplate renders the status page. It expects a map with Status
// (StatusResponse) and Blocks ([]blockstore.Block).
const overviewTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="refresh" content="10">
    <title>X1-Vault Node</title>
    <style>
        body { background: #111827; color: #f9fafb; font-family: system-ui, sans-serif; margin: 2rem; }
        h1 { font-size: 1.5rem; }
        h2 { font-size: 1.1rem; color: #9ca3af; margin-top: 2rem; }
        .mono { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }
        .cards { display: flex; flex-wrap: wrap; gap: 1rem; }
        .card { background: #1f2937; border: 1px solid #374151; border-radius: 6px; padding: 1rem; min-width: 12rem; }
        .label { color: #9ca3af; font-size: 0.8rem; }
        .value { font-size: 1.3rem; margin-top: 0.3rem; }
        .ok { color: #10b981; }
        .err { color: #ef4444; }
        table { border-collapse: collapse; width: 100%; }
        th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #374151; }
        a { color: #3b82f6; }
    </style>
</head>
<body>
    <h1>X1-Vault Node {{if .Status.IsRunning}}<span class="ok">running</span>{{else}}<span class="err">stopped</span>{{end}}</h1>
    {{with .Status.LastError}}<p class="err">Last error: {{.}}</p>{{end}}

    <div class="cards">
        <div class="card"><div class="label">Slot</div><div class="value mono">{{.Status.Slot}}</div></div>
        <div class="card"><div class="label">Uptime</div><div class="value">{{.Status.Uptime}}</div></div>
        <div class="card"><div class="label">Blocks</div><div class="value">{{.Status.BlockCount}}</div></div>
        <div class="card"><div class="label">Transactions</div><div class="value">{{.Status.TransactionCount}}</div></div>
        <div class="card"><div class="label">Accounts</div><div class="value">{{.Status.AccountsCount}}</div></div>
        <div class="card"><div class="label">Vault holdings (XNT)</div><div class="value mono">{{formatLamports .Status.VaultHoldings}}</div></div>
        <div class="card"><div class="label">Stream subscriptions</div><div class="value">{{.Status.GeyserSubscriptions}}</div></div>
    </div>

    <h2>Latest blocks</h2>
    <table>
        <tr><th>Slot</th><th>Blockhash</th><th>Transactions</th><th>Time</th></tr>
        {{range .Blocks}}
        <tr>
            <td><a href="/api/blocks/{{.Slot}}" class="mono">{{.Slot}}</a></td>
            <td class="mono">{{truncateHash .Blockhash.String 8}}</td>
            <td>{{len .Transactions}}</td>
            <td>{{formatTime .BlockTime}}</td>
        </tr>
        {{else}}
        <tr><td colspan="4">No blocks yet</td></tr>
        {{end}}
    </table>
</body>
</html>
`
