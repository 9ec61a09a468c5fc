package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Lobby screen shown on the tablet by the club entrance. Polls the recent
// check-in feed and listens on the WebSocket for live arrivals.
const lobbyPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Lobby · Pacepass</title>
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>🏃</text></svg>">
    <link rel="preconnect" href="https://fonts.googleapis.com">
    <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
    <link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600&family=JetBrains+Mono:wght@400;500&display=swap" rel="stylesheet">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #09090b; --bg-subtle: #18181b; --border: #27272a;
            --text: #fafafa; --text-secondary: #a1a1aa; --text-tertiary: #52525b;
            --accent: #22c55e; --amber: #f59e0b;
        }
        body {
            font-family: 'Inter', -apple-system, sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
            -webkit-font-smoothing: antialiased;
        }
        .mono { font-family: 'JetBrains Mono', monospace; }
        .container { max-width: 800px; margin: 0 auto; padding: 0 24px; }
        header {
            border-bottom: 1px solid var(--border); padding: 16px 0;
            position: sticky; top: 0; background: var(--bg); z-index: 100;
        }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { display: flex; align-items: center; gap: 10px; text-decoration: none; color: var(--text); }
        .logo-mark { width: 24px; height: 24px; background: var(--accent); border-radius: 6px; }
        .logo-text { font-weight: 600; font-size: 15px; }

        .board-header {
            padding: 48px 0 24px;
            display: flex; justify-content: space-between; align-items: flex-end;
            border-bottom: 1px solid var(--border);
        }
        .board-title { font-size: 24px; font-weight: 600; margin-bottom: 4px; }
        .board-desc { color: var(--text-secondary); }
        .live-badge {
            display: flex; align-items: center; gap: 8px;
            background: var(--bg-subtle); border: 1px solid var(--border);
            padding: 8px 14px; border-radius: 20px; font-size: 13px; color: var(--text-secondary);
        }
        .live-dot {
            width: 8px; height: 8px; background: var(--accent); border-radius: 50%;
            animation: pulse 2s ease-in-out infinite;
        }
        @keyframes pulse { 0%, 100% { opacity: 1; } 50% { opacity: 0.4; } }

        .stats { display: flex; gap: 32px; padding: 24px 0; border-bottom: 1px solid var(--border); }
        .stat-value { font-size: 22px; font-weight: 600; }
        .stat-label { font-size: 12px; color: var(--text-tertiary); text-transform: uppercase; }

        .checkin-list { padding: 0; }
        .checkin {
            display: grid; grid-template-columns: 1fr auto;
            gap: 16px; padding: 20px 0; border-bottom: 1px solid var(--border);
            align-items: start;
        }
        .checkin.new { animation: slideIn 0.3s ease-out; }
        @keyframes slideIn { from { opacity: 0; transform: translateY(-8px); } to { opacity: 1; transform: translateY(0); } }

        .checkin-name { font-weight: 500; font-size: 15px; margin-bottom: 4px; }
        .tier-badge {
            display: inline-block; padding: 2px 8px; border-radius: 4px; font-size: 11px;
            text-transform: uppercase; border: 1px solid var(--border); color: var(--text-secondary);
            margin-left: 8px;
        }
        .tier-gold { color: var(--amber); border-color: var(--amber); }
        .low-assurance {
            display: inline-block; margin-left: 8px; font-size: 11px; color: var(--amber);
        }
        .checkin-id { font-size: 12px; color: var(--text-tertiary); }
        .checkin-time { font-size: 12px; color: var(--text-tertiary); text-align: right; padding-top: 4px; }

        .empty { text-align: center; padding: 80px 24px; color: var(--text-tertiary); }

        footer { border-top: 1px solid var(--border); padding: 24px 0; margin-top: 48px; text-align: center; color: var(--text-tertiary); font-size: 13px; }
        footer a { color: var(--text-secondary); text-decoration: none; margin: 0 12px; }
    </style>
</head>
<body>
    <header><div class="container header-inner">
        <a href="/" class="logo"><div class="logo-mark"></div><span class="logo-text">Pacepass</span></a>
        <div class="live-badge"><span class="live-dot"></span> Live</div>
    </div></header>
    <main class="container">
        <div class="board-header">
            <div>
                <h1 class="board-title">Check-in Board</h1>
                <p class="board-desc">Runners arriving right now</p>
            </div>
        </div>
        <div class="stats">
            <div><div class="stat-value mono" id="stat-members">–</div><div class="stat-label">Members</div></div>
            <div><div class="stat-value mono" id="stat-today">–</div><div class="stat-label">Check-ins 24h</div></div>
        </div>
        <div class="checkin-list" id="board"><div class="empty">Loading check-ins...</div></div>
    </main>
    <footer><div class="container"><a href="/v1/checkins/recent">API</a><a href="/api">Info</a></div></footer>
    <script>
        const esc = s => String(s ?? '').replace(/[&<>"']/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[c]));
        const timeAgo = ts => {
            const diff = Math.floor((Date.now() - new Date(ts).getTime()) / 1000);
            if (diff < 5) return 'now';
            if (diff < 60) return diff + 's ago';
            if (diff < 3600) return Math.floor(diff/60) + 'm ago';
            if (diff < 86400) return Math.floor(diff/3600) + 'h ago';
            return Math.floor(diff/86400) + 'd ago';
        };

        function row(ci) {
            return '<div class="checkin'+(ci.fresh ? ' new' : '')+'">'+
                '<div>'+
                    '<div class="checkin-name">'+esc(ci.displayName || ci.memberId)+
                        (ci.tier ? '<span class="tier-badge'+(ci.tier==='gold'?' tier-gold':'')+'">'+esc(ci.tier)+'</span>' : '')+
                        (ci.lowAssurance ? '<span class="low-assurance">static badge</span>' : '')+
                    '</div>'+
                    '<div class="checkin-id mono">'+esc(ci.memberId)+'</div>'+
                '</div>'+
                '<div class="checkin-time">'+timeAgo(ci.at || Date.now())+'</div>'+
            '</div>';
        }

        let board = [];
        function render() {
            const el = document.getElementById('board');
            el.innerHTML = board.length ? board.map(row).join('')
                : '<div class="empty">No check-ins yet.<br>Scan a badge to appear here.</div>';
        }

        function loadStats() {
            fetch('/v1/stats').then(r=>r.json()).then(s => {
                if (s.totalMembers !== undefined) document.getElementById('stat-members').textContent = s.totalMembers;
                if (s.checkinsLast24h !== undefined) document.getElementById('stat-today').textContent = s.checkinsLast24h;
            });
        }

        function load() {
            fetch('/v1/checkins/recent?limit=30').then(r=>r.json()).then(data => {
                board = data.checkins || [];
                render();
            });
            loadStats();
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/ws');
            ws.onmessage = ev => {
                const msg = JSON.parse(ev.data);
                if (msg.type !== 'checkin_accepted') return;
                board.unshift({...msg.data, at: msg.timestamp, fresh: true});
                if (board.length > 30) board.pop();
                render();
            };
            ws.onclose = () => setTimeout(connect, 3000);
        }

        load();
        connect();
        setInterval(load, 30000);
    </script>
</body>
</html>`

func lobbyPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, lobbyPageHTML)
}
