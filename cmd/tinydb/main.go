// Command tinydb is a small interactive shell over the storage engine,
// the document-store counterpart to the teacher's SQL REPL: one
// collection-scoped command per line instead of a SQL grammar, since
// spec.md places query-language parsing out of scope.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"tinydb/pkg/collection"
	"tinydb/pkg/doc"
	"tinydb/pkg/engine"
	"tinydb/pkg/idgen"
	"tinydb/pkg/txn"
)

func main() {
	dbPath := flag.String("db", "tinydb.tdb", "path to the database file")
	flag.Parse()

	e, err := engine.Open(*dbPath, engine.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "tinydb:", err)
		os.Exit(1)
	}
	defer e.Close()

	repl{db: e, in: bufio.NewReader(os.Stdin), out: os.Stdout, errOut: os.Stderr}.run()
}

// repl is a minimal read-eval-print loop: each line is "<collection>
// <verb> [json-arg]". It holds no SQL grammar or parser state, unlike the
// teacher's pkg/cli.Shell, because there is nothing here to tokenize
// beyond whitespace-separated words.
type repl struct {
	db     *engine.Engine
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

func (r repl) run() {
	fmt.Fprintln(r.out, "tinydb> (insert|find|get|delete|count|index|collections|flush|exit)")
	for {
		fmt.Fprint(r.out, "tinydb> ")
		line, err := r.in.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		if err := r.eval(line); err != nil {
			fmt.Fprintln(r.errOut, "error:", err)
		}
	}
}

func (r repl) eval(line string) error {
	fields := strings.SplitN(line, " ", 3)
	verb := fields[0]

	if verb == "collections" {
		for _, name := range r.db.CollectionNames() {
			fmt.Fprintln(r.out, name)
		}
		return nil
	}
	if verb == "flush" {
		return r.db.Flush()
	}

	if len(fields) < 2 {
		return fmt.Errorf("usage: <collection> <verb> [json]")
	}
	collName, verb := fields[0], fields[1]
	var arg string
	if len(fields) == 3 {
		arg = fields[2]
	}

	tx := r.db.BeginTransaction()
	defer func() {
		if tx.State() == txn.StateActive {
			tx.Rollback()
		}
	}()

	coll, err := r.db.GetCollection(tx, collName, idgen.ObjectId)
	if err != nil {
		return err
	}

	switch verb {
	case "insert":
		d, err := jsonToDoc(arg)
		if err != nil {
			return err
		}
		id, err := coll.Insert(tx, d)
		if err != nil {
			return err
		}
		if err := r.db.SaveCatalog(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		fmt.Fprintln(r.out, valueToJSON(id))
		return nil

	case "get":
		id, err := jsonToValue(arg)
		if err != nil {
			return err
		}
		got, err := coll.FindById(tx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, docToJSON(got))
		return nil

	case "delete":
		id, err := jsonToValue(arg)
		if err != nil {
			return err
		}
		if err := coll.Delete(tx, id); err != nil {
			return err
		}
		return tx.Commit()

	case "count":
		n, err := coll.Count(tx)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, n)
		return nil

	case "find":
		f, err := jsonToFilter(arg)
		if err != nil {
			return err
		}
		docs, err := coll.Find(tx, f)
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Fprintln(r.out, docToJSON(d))
		}
		return nil

	case "index":
		path := strings.TrimSpace(arg)
		if path == "" {
			return fmt.Errorf("usage: <collection> index <path>")
		}
		if err := coll.CreateIndex(tx, "on-"+path, path, false, 10); err != nil {
			return err
		}
		if err := r.db.SaveCatalog(tx); err != nil {
			return err
		}
		return tx.Commit()

	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}

// jsonToFilter accepts {"path":"age","op":"eq","value":30} style filters,
// covering the comparison ops the query planner can push to an index.
func jsonToFilter(arg string) (collection.Filter, error) {
	var spec struct {
		Path  string      `json:"path"`
		Op    string      `json:"op"`
		Value interface{} `json:"value"`
	}
	if err := json.Unmarshal([]byte(arg), &spec); err != nil {
		return collection.Filter{}, err
	}
	v := jsonValueToDocValue(spec.Value)
	switch spec.Op {
	case "eq":
		return collection.Eq(spec.Path, v), nil
	case "lt":
		return collection.Lt(spec.Path, v), nil
	case "le":
		return collection.Le(spec.Path, v), nil
	case "gt":
		return collection.Gt(spec.Path, v), nil
	case "ge":
		return collection.Ge(spec.Path, v), nil
	default:
		return collection.Filter{}, fmt.Errorf("unknown filter op %q", spec.Op)
	}
}

func jsonToValue(arg string) (doc.Value, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return doc.Value{}, err
	}
	return jsonValueToDocValue(v), nil
}

func jsonToDoc(arg string) (*doc.Document, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(arg), &m); err != nil {
		return nil, err
	}
	d := doc.NewDoc()
	for k, v := range m {
		d.Set(k, jsonValueToDocValue(v))
	}
	return d, nil
}

func jsonValueToDocValue(v interface{}) doc.Value {
	switch t := v.(type) {
	case nil:
		return doc.NewNull()
	case bool:
		return doc.NewBool(t)
	case float64:
		return doc.NewDouble(t)
	case string:
		return doc.NewString(t)
	case []interface{}:
		out := make([]doc.Value, len(t))
		for i, e := range t {
			out[i] = jsonValueToDocValue(e)
		}
		return doc.NewArray(out)
	case map[string]interface{}:
		sub := doc.NewDoc()
		for k, e := range t {
			sub.Set(k, jsonValueToDocValue(e))
		}
		return doc.NewDocument(sub)
	default:
		return doc.NewNull()
	}
}

func valueToJSON(v doc.Value) string {
	b, _ := json.Marshal(valueToAny(v))
	return string(b)
}

func docToJSON(d *doc.Document) string {
	m := make(map[string]interface{}, d.Len())
	for _, f := range d.Fields() {
		m[f.Name] = valueToAny(f.Value)
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func valueToAny(v doc.Value) interface{} {
	switch v.Tag() {
	case doc.TagNull:
		return nil
	case doc.TagBool:
		return v.Bool()
	case doc.TagDouble:
		return v.Double()
	case doc.TagInt32:
		return v.Int32()
	case doc.TagInt64:
		return v.Int64()
	case doc.TagString:
		return v.String()
	case doc.TagArray:
		arr := v.Array()
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			out[i] = valueToAny(e)
		}
		return out
	case doc.TagDocument:
		sub := v.Document()
		m := make(map[string]interface{}, sub.Len())
		for _, f := range sub.Fields() {
			m[f.Name] = valueToAny(f.Value)
		}
		return m
	default:
		return fmt.Sprintf("%v", v.Tag())
	}
}
