package web

// Template for the index page
const indexTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Socket Intent Monitor</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: sans-serif; margin: 2em; background: #f7f7f7; }
        h1 { font-size: 1.4em; }
        table { border-collapse: collapse; width: 100%; background: #fff; margin-bottom: 2em; }
        th, td { border: 1px solid #ddd; padding: 4px 8px; text-align: left; font-size: 0.9em; }
        th { background: #eee; }
        .stats { margin-bottom: 1.5em; color: #555; }
    </style>
</head>
<body>
    <h1>Socket Intent Monitor</h1>
    <div class="stats">
        Tracked descriptors: {{.RegistrySize}} &nbsp;|&nbsp; Loaded rules: {{.RuleCount}}
    </div>

    <h2>Registry</h2>
    <table id="registry"><thead><tr><th>FD</th><th>Inert</th><th>Created</th></tr></thead><tbody></tbody></table>

    <h2>Recent events</h2>
    <table id="events"><thead><tr><th>ID</th><th>Time</th><th>Op</th><th>FD</th><th>Delegated</th><th>Detail</th><th>Error</th></tr></thead><tbody></tbody></table>

    <h2>Rule matches</h2>
    <table id="matches"><thead><tr><th>ID</th><th>Event</th><th>Rule</th><th>Severity</th><th>Details</th></tr></thead><tbody></tbody></table>

    <script>
    function fill(id, rows, cols) {
        var body = document.querySelector('#' + id + ' tbody');
        body.innerHTML = '';
        rows.forEach(function (row) {
            var tr = document.createElement('tr');
            cols.forEach(function (c) {
                var td = document.createElement('td');
                td.textContent = row[c] === undefined ? '' : String(row[c]);
                tr.appendChild(td);
            });
            body.appendChild(tr);
        });
    }
    function refresh() {
        fetch('/api/registry').then(r => r.json()).then(rows =>
            fill('registry', rows, ['fd', 'inert', 'created']));
        fetch('/api/events?limit=50').then(r => r.json()).then(rows =>
            fill('events', rows, ['id', 'timestamp', 'op', 'fd', 'delegated', 'detail', 'err']));
        fetch('/api/matches?limit=50').then(r => r.json()).then(rows =>
            fill('matches', rows, ['id', 'event_id', 'rule_name', 'severity', 'match_details']))
            .catch(function () {});
    }
    refresh();
    setInterval(refresh, 5000);
    </script>
</body>
</html>`
