package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/melkeydev/treedb/tree"
	"github.com/melkeydev/treedb/types"
)

// TableReader is the read side the table tools need.
type TableReader interface {
	TableNames(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (*types.TableDescription, error)
	Sample(ctx context.Context, table string, limit int) ([]types.Row, error)
	SelectCustom(ctx context.Context, query string) ([]types.Row, error)
	Scan(ctx context.Context, tables []string) ([]types.Table, error)
}

// NodeStore is the hierarchy the tree tools edit.
type NodeStore interface {
	Load(ctx context.Context) error
	Snapshot() []*tree.Node
	AddNodeToRoot(ctx context.Context, name string) (*tree.Node, error)
	AddNodeToParent(ctx context.Context, name string, parentID int64) (*tree.Node, error)
	RenameNode(ctx context.Context, id int64, name string) error
	DeleteNode(ctx context.Context, id int64) error
}

type handlerFunc = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal results: %v", err)), nil
	}

	return mcp.NewToolResultText(string(jsonData)), nil
}

func arguments(request mcp.CallToolRequest) map[string]any {
	if args, ok := request.Params.Arguments.(map[string]any); ok {
		return args
	}
	return nil
}

// intArgument reads an optional numeric argument. JSON numbers arrive as
// float64.
func intArgument(request mcp.CallToolRequest, name string) (int64, bool) {
	switch v := arguments(request)[name].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

// ListTablesHandler creates a handler for the list_tables tool
func ListTablesHandler(reader TableReader) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tables, err := reader.TableNames(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("List tables failed: %v", err)), nil
		}

		return jsonResult(tables)
	}
}

// DescribeHandler creates a handler for the describe_table tool
func DescribeHandler(reader TableReader) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		description, err := reader.DescribeTable(ctx, table)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Describe failed: %v", err)), nil
		}

		return jsonResult(description)
	}
}

// SampleHandler creates a handler for the sample_table tool
func SampleHandler(reader TableReader) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := request.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing table parameter: %v", err)), nil
		}

		limit := 10
		if n, ok := intArgument(request, "limit"); ok && n > 0 {
			limit = int(n)
		}

		results, err := reader.Sample(ctx, table, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Sample failed: %v", err)), nil
		}

		return jsonResult(results)
	}
}

// QueryHandler creates a handler for the query_database tool. Only SELECT
// and WITH statements are accepted.
func QueryHandler(reader TableReader) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing query parameter: %v", err)), nil
		}

		if !isReadOnly(query) {
			return mcp.NewToolResultError("Query failed: only SELECT statements are allowed"), nil
		}

		results, err := reader.SelectCustom(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Query failed: %v", err)), nil
		}

		return jsonResult(results)
	}
}

func isReadOnly(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return !strings.Contains(strings.TrimRight(strings.TrimSpace(query), ";"), ";")
	default:
		return false
	}
}

// ScanHandler creates a handler for the scan_database tool
func ScanHandler(reader TableReader) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var tablesList []string

		switch tablesParam := arguments(request)["tables"].(type) {
		case []interface{}:
			for _, table := range tablesParam {
				if tableStr, ok := table.(string); ok {
					tablesList = append(tablesList, tableStr)
				}
			}
		case string:
			for _, table := range strings.Split(tablesParam, ",") {
				if table = strings.TrimSpace(table); table != "" {
					tablesList = append(tablesList, table)
				}
			}
		}

		tables, err := reader.Scan(ctx, tablesList)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Scan failed: %v", err)), nil
		}

		return jsonResult(tables)
	}
}

// TreeListHandler creates a handler for the tree_list tool. The mirror is
// reloaded from the table first.
func TreeListHandler(store NodeStore) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := store.Load(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Load failed: %v", err)), nil
		}

		return jsonResult(store.Snapshot())
	}
}

// TreeAddHandler creates a handler for the tree_add tool
func TreeAddHandler(store NodeStore) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing name parameter: %v", err)), nil
		}

		var node *tree.Node
		if parentID, ok := intArgument(request, "parent_id"); ok && parentID > 0 {
			node, err = store.AddNodeToParent(ctx, name, parentID)
		} else {
			node, err = store.AddNodeToRoot(ctx, name)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Add node failed: %v", err)), nil
		}

		return jsonResult(node)
	}
}

// TreeRenameHandler creates a handler for the tree_rename tool
func TreeRenameHandler(store NodeStore) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := intArgument(request, "id")
		if !ok {
			return mcp.NewToolResultError("Missing id parameter"), nil
		}

		name, err := request.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Missing name parameter: %v", err)), nil
		}

		if err := store.RenameNode(ctx, id, name); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Rename failed: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("node %d renamed to %s", id, name)), nil
	}
}

// TreeDeleteHandler creates a handler for the tree_delete tool
func TreeDeleteHandler(store NodeStore) handlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := intArgument(request, "id")
		if !ok {
			return mcp.NewToolResultError("Missing id parameter"), nil
		}

		if err := store.DeleteNode(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("node %d deleted", id)), nil
	}
}
