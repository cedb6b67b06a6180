package dashboard

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Edge Vision Dashboard</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: monospace; background: #111; color: #ddd; margin: 16px; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        img { width: 100%; background: #000; }
        pre { white-space: pre-wrap; }
        button { background: #76b900; border: 0; padding: 6px 12px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>Edge Vision Dashboard</h1>
    <div class="grid">
        <div>
            <img id="stream" src="/stream" alt="Live feed with detection overlay">
            <p id="detections">Waiting for detections...</p>
        </div>
        <div>
            <h2>Telemetry</h2>
            <pre id="telemetry">Waiting for data...</pre>
            <h2>Deep Analysis</h2>
            <button id="analyze">Analyze scene</button>
            <pre id="insight"></pre>
        </div>
    </div>
    <script>
        const fmt = (d) => d.label + ' ' + Math.round(d.confidence * 100) + '%';

        new EventSource('/api/detections/stream').onmessage = (e) => {
            const ev = JSON.parse(e.data);
            document.getElementById('detections').textContent =
                'v' + ev.version + ': ' + (ev.detections.map(fmt).join(', ') || 'none');
        };

        new EventSource('/api/telemetry/stream').onmessage = (e) => {
            const t = JSON.parse(e.data).telemetry;
            document.getElementById('telemetry').textContent =
                'GPU  ' + t.gpu_usage.toFixed(1) + '%\n' +
                'CPU  ' + t.cpu_usage.toFixed(1) + '%\n' +
                'RAM  ' + t.ram_usage.toFixed(1) + ' GB\n' +
                'TEMP ' + t.temp.toFixed(1) + ' C\n' +
                'FPS  ' + t.fps.toFixed(1) + '\n' +
                'STATUS ' + t.status;
        };

        document.getElementById('analyze').onclick = async () => {
            const out = document.getElementById('insight');
            out.textContent = 'Analyzing...';
            const resp = await fetch('/api/analyze', { method: 'POST' });
            const body = await resp.json();
            out.textContent = resp.ok
                ? body.summary + '\n\nAnomalies:\n- ' + body.anomalies.join('\n- ') + '\n\n' + body.recommendations
                : 'Error: ' + body.error;
        };
    </script>
</body>
</html>
`
