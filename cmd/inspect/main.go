// Command inspect browses the badger store in read-only mode and prints
// groups and messages as tables. Useful while the server holds the
// primary lock.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" required:"true"`
	Colours        bool   `envconfig:"INSPECT_COLOURS" default:"true"`
}

type groupRow struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	PasswordHash string          `json:"password_hash"`
	MemberIDs    map[string]bool `json:"member_ids"`
	CreatedAt    time.Time       `json:"created_at"`
}

type messageRow struct {
	ID         string          `json:"id"`
	GroupID    string          `json:"group_id"`
	SenderName string          `json:"sender_name"`
	Text       string          `json:"text"`
	Seq        uint64          `json:"seq"`
	CreatedAt  time.Time       `json:"created_at"`
	ReadBy     map[string]bool `json:"read_by"`
}

func main() {
	prefix := flag.String("prefix", "group:", "Prefix to scan (group: or msg:<group id>:)")
	flag.Parse()

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("Config error: ", err)
	}

	opts := badger.DefaultOptions(cfg.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	if cfg.Colours {
		color.Cyan.Printf("Scanning %q in %s\n", *prefix, cfg.BadgerFilepath)
	} else {
		fmt.Printf("Scanning %q in %s\n", *prefix, cfg.BadgerFilepath)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Name/Sender", "Detail", "Timestamp", "Readers/Members"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(val []byte) error {
				table.Append(toRow(key, val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("Scan failed: ", err)
	}

	table.Render()
}

func toRow(key string, val []byte) []string {
	var group groupRow
	if err := json.Unmarshal(val, &group); err == nil && group.Name != "" {
		protected := "open"
		if group.PasswordHash != "" {
			protected = "password-protected"
		}
		return []string{key, group.Name, protected, group.CreatedAt.Format(time.RFC822), fmt.Sprintf("%d members", len(group.MemberIDs))}
	}

	var msg messageRow
	if err := json.Unmarshal(val, &msg); err == nil && msg.GroupID != "" {
		return []string{key, msg.SenderName, msg.Text, msg.CreatedAt.Format("15:04:05"), fmt.Sprintf("%d readers", len(msg.ReadBy))}
	}

	return []string{key, "", fmt.Sprintf("%d bytes", len(val)), "", ""}
}
