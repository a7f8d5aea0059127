package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/urfave/cli/v3"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authentication commands",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Login and store CLI token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Value: "uds"},
					&cli.StringFlag{Name: "server", Value: "http://127.0.0.1:8080"},
					&cli.StringFlag{Name: "socket", Value: "/tmp/curator.sock"},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "token-name", Value: "cli"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{Transport: c.String("transport"), Server: c.String("server"), Socket: c.String("socket")}
					var out struct {
						Token string `json:"token"`
						Email string `json:"email"`
					}
					if err := doLogin(ctx, cfg, c.String("email"), c.String("password"), c.String("token-name"), &out); err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("logged in as %s\n", out.Email)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show current authenticated user",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					var out struct {
						ID        uint   `json:"id"`
						Email     string `json:"email"`
						SuperUser bool   `json:"super_user"`
						ActingAs  string `json:"acting_as"`
					}
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{
						{"id", uintToString(out.ID)},
						{"email", out.Email},
						{"super_user", fmt.Sprint(out.SuperUser)},
						{"acting_as", out.ActingAs},
					})
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Clear local CLI auth token",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func nodeFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "kind", Required: true, Usage: "field, schema, data or record"},
		&cli.StringFlag{Name: "uuid", Required: true},
	}
	return append(flags, extra...)
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}
}

func printNode(c *cli.Command, n *domain.Node) error {
	if c.Bool("json") {
		return printJSON(n)
	}
	printNodeTree(n)
	return nil
}

func nodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "node",
		Usage: "Draft, persist and inspect nodes",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a node tree from a JSON body",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Required: true},
					&cli.StringFlag{Name: "file", Required: true, Usage: "JSON body, - for stdin"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					body, err := readDocument(c.String("file"))
					if err != nil {
						return err
					}
					var out struct {
						UUID string `json:"uuid"`
					}
					if err := doCreate(ctx, cfg, c.String("kind"), body, &out); err != nil {
						return err
					}
					fmt.Println(out.UUID)
					return nil
				},
			},
			{
				Name:  "draft",
				Usage: "Show the draft of a node",
				Flags: nodeFlags(jsonFlag()),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					var out domain.Node
					if err := doDraft(ctx, cfg, c.String("kind"), c.String("uuid"), &out); err != nil {
						return err
					}
					return printNode(c, &out)
				},
			},
			{
				Name:  "update",
				Usage: "Replace the draft of a node",
				Flags: nodeFlags(&cli.StringFlag{Name: "file", Required: true, Usage: "JSON body, - for stdin"}),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					body, err := readDocument(c.String("file"))
					if err != nil {
						return err
					}
					if err := doUpdate(ctx, cfg, c.String("kind"), c.String("uuid"), body); err != nil {
						return err
					}
					fmt.Println("updated")
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Discard the draft of a node",
				Flags: nodeFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					if err := doDeleteDraft(ctx, cfg, c.String("kind"), c.String("uuid")); err != nil {
						return err
					}
					fmt.Println("draft deleted")
					return nil
				},
			},
			{
				Name:  "last-update",
				Usage: "Show the last update of a node tree",
				Flags: nodeFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					t, err := doLastUpdate(ctx, cfg, c.String("kind"), c.String("uuid"))
					if err != nil {
						return err
					}
					fmt.Println(t)
					return nil
				},
			},
			{
				Name:  "persist",
				Usage: "Persist a node tree",
				Flags: nodeFlags(&cli.StringFlag{Name: "last-update", Usage: "observed last update; fetched when empty"}),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					kind, id := c.String("kind"), c.String("uuid")
					lastUpdate := c.String("last-update")
					if lastUpdate == "" {
						if lastUpdate, err = doLastUpdate(ctx, cfg, kind, id); err != nil {
							return err
						}
					}
					var out struct {
						ID string `json:"id"`
					}
					if err := doPersist(ctx, cfg, kind, id, lastUpdate, &out); err != nil {
						return err
					}
					fmt.Println(out.ID)
					return nil
				},
			},
			{
				Name:  "latest",
				Usage: "Show the latest persisted version",
				Flags: nodeFlags(jsonFlag(), &cli.StringFlag{Name: "before", Usage: "RFC 3339 timestamp"}),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					var out domain.Node
					if err := doLatestPersisted(ctx, cfg, c.String("kind"), c.String("uuid"), c.String("before"), &out); err != nil {
						return err
					}
					return printNode(c, &out)
				},
			},
			{
				Name:  "draft-existing",
				Usage: "Report whether a draft exists",
				Flags: nodeFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					exists, err := doDraftExisting(ctx, cfg, c.String("kind"), c.String("uuid"))
					if err != nil {
						return err
					}
					fmt.Println(exists)
					return nil
				},
			},
			{
				Name:  "duplicate",
				Usage: "Copy the latest persisted version into a new draft",
				Flags: nodeFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					var out struct {
						UUID string `json:"uuid"`
					}
					if err := doDuplicate(ctx, cfg, c.String("kind"), c.String("uuid"), &out); err != nil {
						return err
					}
					fmt.Println(out.UUID)
					return nil
				},
			},
			{
				Name:  "import",
				Usage: "Import an external schema or data document",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Required: true, Usage: "schema or data"},
					&cli.StringFlag{Name: "file", Required: true, Usage: "JSON document, - for stdin"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					doc, err := readDocument(c.String("file"))
					if err != nil {
						return err
					}
					var out struct {
						UUID string `json:"uuid"`
					}
					if err := doImport(ctx, cfg, c.String("kind"), doc, &out); err != nil {
						return err
					}
					fmt.Println(out.UUID)
					return nil
				},
			},
		},
	}
}

func recordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Publish records",
		Commands: []*cli.Command{
			{
				Name:  "publish",
				Usage: "Publish a record under a name",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uuid", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "last-update", Usage: "observed last update; fetched when empty"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					id := c.String("uuid")
					lastUpdate := c.String("last-update")
					if lastUpdate == "" {
						if lastUpdate, err = doLastUpdate(ctx, cfg, "record", id); err != nil {
							return err
						}
					}
					var out struct {
						ID string `json:"id"`
					}
					if err := doPublish(ctx, cfg, id, lastUpdate, c.String("name"), &out); err != nil {
						return err
					}
					printKV([][2]string{{"name", c.String("name")}, {"version", out.ID}})
					return nil
				},
			},
			{
				Name:  "published",
				Usage: "Show a published record",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uuid", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					jsonFlag(),
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					var out domain.Node
					if err := doPublished(ctx, cfg, c.String("uuid"), c.String("name"), &out); err != nil {
						return err
					}
					return printNode(c, &out)
				},
			},
		},
	}
}

type usersResult struct {
	Users []string `json:"users"`
}

func permissionCommand() *cli.Command {
	flags := func(extra ...cli.Flag) []cli.Flag {
		return append([]cli.Flag{
			&cli.StringFlag{Name: "uuid", Required: true},
			&cli.StringFlag{Name: "category", Required: true, Usage: "admin, edit or view"},
		}, extra...)
	}
	return &cli.Command{
		Name:  "permission",
		Usage: "Inspect and change node permissions",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "List the users holding a category",
				Flags: flags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					var out usersResult
					if err := doPermissionGet(ctx, cfg, c.String("uuid"), c.String("category"), &out); err != nil {
						return err
					}
					fmt.Println(strings.Join(out.Users, "\n"))
					return nil
				},
			},
			{
				Name:  "set",
				Usage: "Replace the users holding a category",
				Flags: flags(&cli.StringSliceFlag{Name: "user", Usage: "repeat for each user"}),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					users := c.StringSlice("user")
					if users == nil {
						users = []string{}
					}
					var out usersResult
					if err := doPermissionSet(ctx, cfg, c.String("uuid"), c.String("category"), users, &out); err != nil {
						return err
					}
					fmt.Println(strings.Join(out.Users, "\n"))
					return nil
				},
			},
		},
	}
}

func groupCommand() *cli.Command {
	return &cli.Command{
		Name:  "group",
		Usage: "List instance nodes created together",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "group", Required: true},
			jsonFlag(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := commandConfig(c)
			if err != nil {
				return err
			}
			var out struct {
				Members []domain.GroupMember `json:"members"`
			}
			if err := doGroup(ctx, cfg, c.String("group"), &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out.Members)
			}
			printMembers(out.Members)
			return nil
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit log commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List audit logs",
				Flags: []cli.Flag{jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := commandConfig(c)
					if err != nil {
						return err
					}
					var out []domain.AuditLog
					if err := doAuditList(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditLogs(out)
					return nil
				},
			},
		},
	}
}
