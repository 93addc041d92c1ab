// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command iocdb builds and queries indicator-of-compromise databases using
// only the iocdb package's public API. It is a thin wrapper, not a bulk
// threat-feed ingestion pipeline.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saferwall/iocdb"
	iocdblog "github.com/saferwall/iocdb/log"
)

var (
	outPath         string
	databaseType    string
	caseInsensitive bool
	descriptions    []string

	dbPath        string
	cacheCapacity int
	trusted       bool
)

func prettyPrint(buf []byte) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf, "", "\t"); err != nil {
		return string(buf)
	}
	return pretty.String()
}

// jsonToValue converts a decoded encoding/json tree (map[string]interface{},
// []interface{}, float64, string, bool, nil) into a metadata Value, the
// shape every ingestion line's trailing JSON payload takes.
func jsonToValue(x interface{}) iocdb.Value {
	switch v := x.(type) {
	case nil:
		return iocdb.MapValue(nil)
	case bool:
		return iocdb.BoolValue(v)
	case float64:
		return iocdb.Value{Kind: iocdb.KindFloat64, F64: v}
	case string:
		return iocdb.StringValue(v)
	case []interface{}:
		arr := make([]iocdb.Value, len(v))
		for i, e := range v {
			arr[i] = jsonToValue(e)
		}
		return iocdb.ArrayValue(arr)
	case map[string]interface{}:
		m := make(map[string]iocdb.Value, len(v))
		for k, e := range v {
			m[k] = jsonToValue(e)
		}
		return iocdb.MapValue(m)
	default:
		return iocdb.MapValue(nil)
	}
}

// runBuild reads each input file as newline-delimited "key<TAB>json" records
// and assembles them into a single database at outPath.
func runBuild(cmd *cobra.Command, args []string) {
	caseMode := iocdb.CaseSensitive
	if caseInsensitive {
		caseMode = iocdb.CaseInsensitive
	}

	b := iocdb.New(caseMode)
	b.SetDatabaseType(databaseType)
	for _, d := range descriptions {
		lang, text, ok := strings.Cut(d, "=")
		if !ok {
			log.Printf("ignoring malformed --desc %q, want lang=text", d)
			continue
		}
		b.AddDescription(lang, text)
	}

	var count int
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("opening %s: %v", path, err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, payload, _ := strings.Cut(line, "\t")
			var data iocdb.Value
			if payload != "" {
				var decoded interface{}
				if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
					log.Fatalf("%s: malformed JSON payload for key %q: %v", path, key, err)
				}
				data = jsonToValue(decoded)
			}
			if _, err := b.AddEntry(key, data); err != nil {
				log.Fatalf("%s: adding %q: %v", path, key, err)
			}
			count++
		}
		if err := scanner.Err(); err != nil {
			log.Fatalf("reading %s: %v", path, err)
		}
		f.Close()
	}

	if err := b.WriteFile(outPath); err != nil {
		log.Fatalf("writing %s: %v", outPath, err)
	}
	log.Printf("wrote %s: %d entries", outPath, count)
}

func valueToJSON(v iocdb.Value) interface{} {
	switch v.Kind {
	case iocdb.KindString:
		return v.Str
	case iocdb.KindBytes:
		return v.Bytes
	case iocdb.KindUint16:
		return v.U16
	case iocdb.KindUint32:
		return v.U32
	case iocdb.KindUint64:
		return v.U64
	case iocdb.KindInt32:
		return v.I32
	case iocdb.KindFloat32:
		return v.F32
	case iocdb.KindFloat64:
		return v.F64
	case iocdb.KindBool:
		return v.Bool
	case iocdb.KindArray:
		arr := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			arr[i] = valueToJSON(e)
		}
		return arr
	case iocdb.KindMap:
		m := make(map[string]interface{}, len(v.Map))
		for k, e := range v.Map {
			m[k] = valueToJSON(e)
		}
		return m
	default:
		return nil
	}
}

func openDatabase(path string) *iocdb.Database {
	db, err := iocdb.Open(path, iocdb.OpenOptions{
		Trusted:       trusted,
		CacheCapacity: cacheCapacity,
		Logger:        iocdblog.NewNop(),
	})
	if err != nil {
		log.Fatalf("opening %s: %v", path, err)
	}
	return db
}

func runLookup(cmd *cobra.Command, args []string) {
	db := openDatabase(dbPath)
	defer db.Close()

	res, err := db.Lookup(args[0])
	if err != nil {
		log.Fatalf("lookup %q: %v", args[0], err)
	}

	switch res.Kind {
	case iocdb.NotFound:
		fmt.Println("no match")
	case iocdb.IPResult:
		out, _ := json.Marshal(map[string]interface{}{
			"kind":       "ip",
			"prefix_len": res.PrefixLen,
			"data":       valueToJSON(res.Data),
		})
		fmt.Println(prettyPrint(out))
	case iocdb.PatternResult:
		matches := make([]map[string]interface{}, len(res.PatternIDs))
		for i, id := range res.PatternIDs {
			matches[i] = map[string]interface{}{
				"pattern_id": id,
				"data":       valueToJSON(res.Datas[i]),
			}
		}
		out, _ := json.Marshal(map[string]interface{}{
			"kind":    "pattern",
			"matches": matches,
		})
		fmt.Println(prettyPrint(out))
	}
}

func runInspect(cmd *cobra.Command, args []string) {
	db := openDatabase(args[0])
	defer db.Close()

	magic, version := db.Format()
	out, _ := json.Marshal(map[string]interface{}{
		"magic":            magic,
		"version":          version,
		"database_type":    db.DatabaseType(),
		"description_en":   db.Description("en"),
		"has_ip_data":      db.HasIPData(),
		"has_literal_data": db.HasLiteralData(),
		"has_glob_data":    db.HasGlobData(),
		"ip_node_count":    db.IPNodeCount(),
		"literal_count":    db.LiteralCount(),
		"glob_count":       db.GlobCount(),
	})
	fmt.Println(prettyPrint(out))
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "iocdb",
		Short: "Build and query indicator-of-compromise databases",
		Long:  "iocdb builds and queries memory-mapped IP/literal/glob indicator databases",
	}

	buildCmd := &cobra.Command{
		Use:   "build [flags] input.tsv...",
		Short: "Build a database from one or more ingestion files",
		Args:  cobra.MinimumNArgs(1),
		Run:   runBuild,
	}
	buildCmd.Flags().StringVarP(&outPath, "out", "o", "out.iocdb", "output database path")
	buildCmd.Flags().StringVar(&databaseType, "type", "", "database_type metadata field")
	buildCmd.Flags().BoolVar(&caseInsensitive, "case-insensitive", false, "match literals and globs case-insensitively")
	buildCmd.Flags().StringArrayVar(&descriptions, "desc", nil, "lang=text description, repeatable")

	lookupCmd := &cobra.Command{
		Use:   "lookup [flags] key",
		Short: "Look up an IP, literal, or glob-matching key",
		Args:  cobra.ExactArgs(1),
		Run:   runLookup,
	}
	lookupCmd.Flags().StringVarP(&dbPath, "db", "d", "", "database path")
	lookupCmd.Flags().IntVar(&cacheCapacity, "cache", 0, "result cache capacity, 0 disables")
	lookupCmd.MarkFlagRequired("db")

	inspectCmd := &cobra.Command{
		Use:   "inspect db",
		Short: "Print database-level metadata and section counts",
		Args:  cobra.ExactArgs(1),
		Run:   runInspect,
	}

	rootCmd.PersistentFlags().BoolVar(&trusted, "trusted", false, "skip structural validation on open")
	rootCmd.AddCommand(buildCmd, lookupCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
