// Command badger_inspect dumps stored chat rows as a table, for poking at a
// node's database offline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

type row struct {
	ID       string `json:"id"`
	Channel  string `json:"channel"`
	Author   string `json:"author"`
	Body     string `json:"body"`
	At       int64  `json:"at"`
	EditedAt *int64 `json:"edited_at"`
	Deleted  bool   `json:"deleted"`
}

func main() {
	dbPath := flag.String("db", "/tmp/herdchat", "Path to badger DB")
	// Default prefix targets message rows; msgid: index entries are skipped.
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Channel", "Timestamp", "Id", "Author", "State", "Body"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())

			if strings.HasPrefix(key, "msgid:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				var r row
				if err := json.Unmarshal(v, &r); err != nil {
					fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
					return nil
				}
				table.Append([]string{
					key,
					r.Channel,
					time.Unix(0, r.At).UTC().Format("15:04:05"),
					shorten(r.ID),
					r.Author,
					state(r),
					r.Body,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func state(r row) string {
	switch {
	case r.Deleted:
		return "TOMBSTONE"
	case r.EditedAt != nil:
		return "EDITED " + strconv.FormatInt(*r.EditedAt, 10)
	default:
		return "LIVE"
	}
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
