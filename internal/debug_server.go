package internal

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Debug-only HTML view over the raw Badger keyspace, reachable when the log
// level is DEBUG. Not part of the served API.
const inspectPage = `<!DOCTYPE html>
<html><head><title>herdchat inspector</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
td, th { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
th { background: #eee; }
</style></head>
<body>
<h2>Prefix: {{.Prefix}}</h2>
<table>
<tr><th>Key</th><th>Channel</th><th>Timestamp</th><th>Id</th><th>Detail</th></tr>
{{range .Items}}
<tr><td>{{.Key}}</td><td>{{.Channel}}</td><td>{{.Timestamp}}</td><td>{{.EntityID}}</td><td>{{.Detail}}</td></tr>
{{end}}
</table>
</body></html>`

type InspectRow struct {
	Key       string
	Channel   string
	Timestamp string
	EntityID  string
	Detail    string
}

type PageData struct {
	Prefix string
	Items  []InspectRow
}

// StartDebugServer serves a read-only inspector over the database at
// /inspect?prefix=msg:. It never blocks the caller.
func StartDebugServer(db *badger.DB, port int) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.New("inspect").Parse(inspectPage))

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}

		data := PageData{Prefix: prefix}
		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapRow(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		_ = http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
	}()
}

// mapRow decodes a "msg:{channel}:{ts}:{uuid}" key into display columns;
// other prefixes fall back to raw key plus value size.
func mapRow(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:       key,
		Timestamp: "--:--:--",
		Detail:    "size: " + strconv.Itoa(len(val)) + " bytes",
	}

	parts := strings.Split(key, ":")
	if len(parts) == 4 && parts[0] == "msg" {
		row.Channel = parts[1]
		if tsNano, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).UTC().Format("15:04:05")
		}
		row.EntityID = shorten(parts[3])
		var body struct {
			Body    string `json:"body"`
			Deleted bool   `json:"deleted"`
		}
		if err := json.Unmarshal(val, &body); err == nil {
			row.Detail = body.Body
			if body.Deleted {
				row.Detail = "[tombstone] " + row.Detail
			}
		}
	}
	return row
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
