package web

import "html/template"

type pageData struct {
	Title string
}

var pageTemplate = template.Must(template.New("index").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-100">
    <div class="container mx-auto px-4 py-8 max-w-3xl">
        <h1 class="text-3xl font-bold mb-6">{{.Title}}</h1>
        <div class="flex items-center gap-2 mb-4">
            <button id="toggle" class="bg-blue-600 text-white rounded px-4 py-2">Start</button>
            <button id="restart" class="bg-gray-300 rounded px-4 py-2">Restart</button>
            <span id="badge" class="ml-auto text-sm text-gray-500">idle</span>
        </div>
        <div id="error" class="hidden bg-red-100 text-red-800 rounded p-3 mb-4">
            <p id="error-message"></p>
            <div class="flex gap-2 mt-2 text-sm">
                <button id="dismiss" class="underline">Dismiss</button>
                <button id="discard" class="underline">Discard and record again</button>
            </div>
        </div>
        <div class="bg-white shadow rounded-lg p-4 mb-4">
            <ul id="chunks" class="space-y-1 font-mono text-sm"></ul>
            <p id="partial" class="text-gray-400 italic mt-2"></p>
        </div>
        <form id="submit" class="flex gap-2 mb-4">
            <select id="kind" class="rounded border px-2">
                <option value="speaking">Speaking</option>
                <option value="reading">Reading</option>
            </select>
            <input id="item" class="flex-1 rounded border px-2" placeholder="Topic or passage id">
            <button class="bg-green-600 text-white rounded px-4 py-2">Submit</button>
        </form>
        <pre id="result" class="hidden bg-white shadow rounded-lg p-4 whitespace-pre-wrap text-sm"></pre>
    </div>
<script>
let listening = false;
const $ = (id) => document.getElementById(id);

function fmt(t) {
    const m = Math.floor(t / 60);
    const s = (t % 60).toFixed(1).padStart(4, "0");
    return String(m).padStart(2, "0") + ":" + s;
}

function renderChunks(chunks) {
    const list = $("chunks");
    list.innerHTML = "";
    for (const c of chunks) {
        const li = document.createElement("li");
        li.textContent = "[" + fmt(c.startTime) + "-" + fmt(c.endTime) + "] " + c.text;
        list.appendChild(li);
    }
}

function setListening(value) {
    listening = value;
    $("toggle").textContent = value ? "Stop" : "Start";
    $("badge").textContent = value ? "listening" : "idle";
    if (!value) $("partial").textContent = "";
}

function showError(message) {
    $("error-message").textContent = message;
    $("error").classList.toggle("hidden", !message);
}

async function call(path, body) {
    const res = await fetch(path, {
        method: "POST",
        headers: {"Content-Type": "application/json"},
        body: body ? JSON.stringify(body) : undefined,
    });
    const data = await res.json();
    if (!res.ok) throw new Error(data.error || res.statusText);
    return data;
}

function connect() {
    const proto = location.protocol === "https:" ? "wss://" : "ws://";
    const ws = new WebSocket(proto + location.host + "/api/session/ws");
    ws.onmessage = (ev) => {
        const msg = JSON.parse(ev.data);
        switch (msg.type) {
        case "state":
            setListening(msg.data.listening);
            renderChunks(msg.data.chunks || []);
            break;
        case "chunks": renderChunks(msg.data); $("partial").textContent = ""; break;
        case "listening": setListening(msg.data); break;
        case "partial": $("partial").textContent = msg.data; break;
        case "error": showError(msg.data); break;
        }
    };
    ws.onclose = () => setTimeout(connect, 1000);
}

$("toggle").onclick = async () => {
    showError("");
    try {
        await call(listening ? "/api/session/stop" : "/api/session/start");
    } catch (e) {
        showError(e.message);
    }
};

async function restart() {
    showError("");
    $("result").classList.add("hidden");
    try {
        await call("/api/session/restart");
    } catch (e) {
        showError(e.message);
    }
}

$("restart").onclick = restart;
$("discard").onclick = restart;
$("dismiss").onclick = () => showError("");

$("submit").onsubmit = async (ev) => {
    ev.preventDefault();
    showError("");
    try {
        const result = await call("/api/submit/" + $("kind").value, {itemId: $("item").value});
        $("result").textContent = JSON.stringify(result, null, 2);
        $("result").classList.remove("hidden");
    } catch (e) {
        showError(e.message);
    }
};

connect();
</script>
</body>
</html>
`))
