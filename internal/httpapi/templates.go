package httpapi

import "html/template"

var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardHTML))

const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Blink Bridge</title>
<style>
  body { font-family: sans-serif; margin: 1.5em; max-width: 64em; }
  h1 { margin-bottom: 0.2em; }
  .badge { display: inline-block; padding: 0.2em 0.6em; border-radius: 0.4em; color: #fff; }
  .badge.connected { background: #2e7d32; }
  .badge.error { background: #c62828; }
  .badge.waiting_2fa, .badge.config_required { background: #ef6c00; }
  .badge.starting { background: #546e7a; }
  .error-box { background: #fdecea; border: 1px solid #c62828; padding: 0.6em; margin: 0.8em 0; }
  .panel { border: 1px solid #ccc; border-radius: 0.4em; padding: 1em; margin: 1em 0; }
  table { border-collapse: collapse; width: 100%; }
  th, td { text-align: left; padding: 0.4em 0.8em; border-bottom: 1px solid #eee; }
  img.thumb { max-width: 16em; display: block; margin-top: 0.3em; }
  label { display: block; margin: 0.5em 0 0.1em; }
  input { padding: 0.3em; width: 20em; max-width: 100%; }
  button { padding: 0.4em 1em; margin-top: 0.6em; cursor: pointer; }
  footer { color: #777; font-size: 0.8em; margin-top: 2em; }
</style>
</head>
<body>
<h1>Blink Bridge</h1>
<p>Status: <span class="badge {{.Lifecycle}}">{{.Lifecycle}}</span></p>

{{if .LastError}}
<div class="error-box">{{.LastError}}</div>
{{end}}

{{if .ShowPIN}}
<div class="panel">
  <h2>Two-factor verification</h2>
  <p>Blink sent a PIN to your email or phone. Enter it below.</p>
  <form method="post" action="{{.Base}}/verify_2fa">
    <input name="pin" placeholder="123456" autocomplete="one-time-code" autofocus>
    <button type="submit">Verify</button>
  </form>
</div>
{{end}}

<div class="panel">
  <h2>System</h2>
  <p>Currently <strong>{{if .Armed}}armed{{else}}disarmed{{end}}</strong>{{if not .UpdatedAt.IsZero}} (updated {{.UpdatedAt.Format "15:04:05"}}){{end}}</p>
  <form method="post" action="{{.Base}}/arm">
    <button name="action" value="arm">Arm</button>
    <button name="action" value="disarm">Disarm</button>
  </form>
</div>

{{if .Cameras}}
<div class="panel">
  <h2>Cameras</h2>
  <table>
    <tr><th>Name</th><th>Status</th><th>Temperature</th><th>Battery</th><th></th></tr>
    {{range .Cameras}}
    <tr>
      <td>
        {{.Name}}
        {{if .HasImage}}<img class="thumb" src="{{$.Base}}/images/{{.Slug}}.jpg?t={{$.UpdatedAt.Unix}}" alt="{{.Name}}">{{end}}
      </td>
      <td>{{if .Online}}online{{else}}offline{{end}}</td>
      <td>{{if .Temperature}}{{.Temperature}}&deg;F{{else}}n/a{{end}}</td>
      <td>{{.Battery}}</td>
      <td>
        <form method="post" action="{{$.Base}}/snap/{{.Slug}}">
          <button type="submit">Snapshot</button>
        </form>
      </td>
    </tr>
    {{end}}
  </table>
</div>
{{end}}

<div class="panel">
  <h2>Configuration</h2>
  <form method="post" action="{{.Base}}/save_config">
    <label for="blink_email">Blink email</label>
    <input id="blink_email" name="blink_email" value="{{.Config.BlinkEmail}}">
    <label for="blink_password">Blink password</label>
    <input id="blink_password" name="blink_password" type="password" value="{{.Config.BlinkPassword}}">
    <label for="mqtt_broker">MQTT broker host</label>
    <input id="mqtt_broker" name="mqtt_broker" value="{{.Config.MQTTBroker}}">
    <label for="mqtt_port">MQTT port</label>
    <input id="mqtt_port" name="mqtt_port" value="{{.Config.MQTTPort}}">
    <label for="mqtt_username">MQTT username</label>
    <input id="mqtt_username" name="mqtt_username" value="{{.Config.MQTTUsername}}">
    <label for="mqtt_password">MQTT password</label>
    <input id="mqtt_password" name="mqtt_password" type="password" value="{{.Config.MQTTPassword}}">
    <label for="poll_interval">Poll interval (seconds)</label>
    <input id="poll_interval" name="poll_interval" value="{{.Config.PollInterval}}">
    <button type="submit">Save and reconnect</button>
  </form>
</div>

<footer>blinkbridge {{.Version}}</footer>

<script>
(function() {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "{{.Base}}/ws");
  var first = true;
  ws.onmessage = function() {
    if (first) { first = false; return; }
    location.reload();
  };
})();
</script>
</body>
</html>
`
