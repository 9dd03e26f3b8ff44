package mcp

import (
	goMCP "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/melkeydev/treedb/handlers"
)

// RegisterTools adds the table tools backed by reader and the tree tools
// backed by store. A nil store leaves the tree tools out.
func RegisterTools(s *server.MCPServer, reader handlers.TableReader, store handlers.NodeStore) {
	listTool := goMCP.NewTool("list_tables",
		goMCP.WithDescription("List the tables of the database"),
	)

	describeTool := goMCP.NewTool("describe_table",
		goMCP.WithDescription("Describe a table: columns, row count, sample rows, primary keys and indexes"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of the table to describe"),
		),
	)

	// Sample tool
	sampleTool := goMCP.NewTool("sample_table",
		goMCP.WithDescription("Get sample data from a specific table"),
		goMCP.WithString("table",
			goMCP.Required(),
			goMCP.Description("Name of the table to sample"),
		),
		goMCP.WithNumber("limit",
			goMCP.Description("Number of rows to return (default: 10)"),
		),
	)

	// Query tool
	queryTool := goMCP.NewTool("query_database",
		goMCP.WithDescription("Execute a read-only SQL query on the database"),
		goMCP.WithString("query",
			goMCP.Required(),
			goMCP.Description("SQL query to execute (SELECT statements only)"),
		),
	)

	// Scan tool
	scanTool := goMCP.NewTool("scan_database",
		goMCP.WithDescription("Discover database tables and their structure"),
		goMCP.WithString("tables",
			goMCP.Description("Optional comma separated table names to scan. If empty, scans all tables"),
		),
	)

	s.AddTool(listTool, handlers.ListTablesHandler(reader))
	s.AddTool(describeTool, handlers.DescribeHandler(reader))
	s.AddTool(sampleTool, handlers.SampleHandler(reader))
	s.AddTool(queryTool, handlers.QueryHandler(reader))
	s.AddTool(scanTool, handlers.ScanHandler(reader))

	if store == nil {
		return
	}

	treeListTool := goMCP.NewTool("tree_list",
		goMCP.WithDescription("Reload and return the node hierarchy"),
	)

	treeAddTool := goMCP.NewTool("tree_add",
		goMCP.WithDescription("Add a node at the top level or under a parent"),
		goMCP.WithString("name",
			goMCP.Required(),
			goMCP.Description("Name of the new node"),
		),
		goMCP.WithNumber("parent_id",
			goMCP.Description("Id of the parent node. Omit to add a top-level node"),
		),
	)

	treeRenameTool := goMCP.NewTool("tree_rename",
		goMCP.WithDescription("Rename a node"),
		goMCP.WithNumber("id",
			goMCP.Required(),
			goMCP.Description("Id of the node"),
		),
		goMCP.WithString("name",
			goMCP.Required(),
			goMCP.Description("New name"),
		),
	)

	treeDeleteTool := goMCP.NewTool("tree_delete",
		goMCP.WithDescription("Delete a node; its children move up to its parent"),
		goMCP.WithNumber("id",
			goMCP.Required(),
			goMCP.Description("Id of the node"),
		),
	)

	s.AddTool(treeListTool, handlers.TreeListHandler(store))
	s.AddTool(treeAddTool, handlers.TreeAddHandler(store))
	s.AddTool(treeRenameTool, handlers.TreeRenameHandler(store))
	s.AddTool(treeDeleteTool, handlers.TreeDeleteHandler(store))
}
