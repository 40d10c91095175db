// cmd/tig/main.go
package main

import (
    "bufio"
    "fmt"
    "os"
    "os/signal"
    "strings"
    "time"

    "path/filepath"

    "github.com/dgraph-io/badger/v4"
    "github.com/fatih/color"
    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "tig/internal/checkout"
    "tig/internal/commit"
    "tig/internal/config"
    "tig/internal/diff"
    "tig/internal/errors"
    "tig/internal/histedit"
    "tig/internal/index"
    "tig/internal/objectstore"
    "tig/internal/rebase"
    "tig/internal/refs"
    "tig/internal/safe"
    "tig/internal/stage"
    "tig/internal/status"
    "tig/internal/worktree"
)

var logger, _ = zap.NewDevelopment()

var rootCmd = &cobra.Command{
    Use:   "tig",
    Short: "Tig is a version-control work-tree engine",
    Long: `Tig maintains a filesystem work tree synced to commits in a
content-addressable object store, and drives checkout, commit, rebase,
histedit, stage/unstage and revert over it.`,
}

// env is the set of collaborators every command needs: the open work
// tree plus its object-store and ref-store collaborators. The object
// store and ref store are out-of-scope external collaborators (spec.md
// §1); cmd/tig wires the in-memory implementation here in place of the
// privilege-separated object-store process got talks to over pipes.
type env struct {
    wt    *worktree.WorkTree
    store objectstore.Store
    refs  refs.Store
    cfg   *config.WorkTreeConfig
    cache *badger.DB
}

func openEnv() (*env, error) {
    cwd, err := os.Getwd()
    if err != nil {
        return nil, fmt.Errorf("getting current directory: %w", err)
    }
    wtc := config.DefaultWorkTreeConfig()
    wt, err := worktree.Open(cwd, wtc.DotName)
    if err != nil {
        return nil, err
    }

    cacheDir := filepath.Join(wt.DotDir(), "blobcache")
    db, err := badger.Open(badger.DefaultOptions(filepath.Join(cacheDir, "meta")))
    if err != nil {
        wt.Close()
        return nil, fmt.Errorf("opening blob cache: %w", err)
    }
    sf, err := safe.New(db, safe.Options{Root: filepath.Join(cacheDir, "content"), CacheSize: 512})
    if err != nil {
        db.Close()
        wt.Close()
        return nil, fmt.Errorf("opening blob cache: %w", err)
    }

    store := safe.NewCachingStore(objectstore.NewMemory(), sf)
    return &env{wt: wt, store: store, refs: refs.NewMemory(), cfg: &wtc, cache: db}, nil
}

func (e *env) close() {
    if e.cache != nil {
        e.cache.Close()
    }
    if e.wt != nil {
        e.wt.Close()
    }
}

func fail(err error) {
    if e, ok := err.(*errors.Error); ok {
        fmt.Fprintln(os.Stderr, color.RedString(e.Error()))
    } else {
        fmt.Fprintln(os.Stderr, color.RedString(err.Error()))
    }
    os.Exit(1)
}

func init() {
    rootCmd.AddCommand(initCmd(), statusCmd(), stageCmd(), unstageCmd(), commitCmd(),
        checkoutCmd(), revertCmd(), integrateCmd(), rebaseCmd(), histeditCmd())
}

func initCmd() *cobra.Command {
    var dotName, headRef, prefix, repo string
    cmd := &cobra.Command{
        Use:   "init [path]",
        Short: "Initialize a new work tree",
        Args:  cobra.MaximumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            path := "."
            if len(args) == 1 {
                path = args[0]
            }
            wtc := config.DefaultWorkTreeConfig()
            if dotName == "" {
                dotName = wtc.DotName
            }
            wt, err := worktree.Init(path, dotName, headRef, prefix, repo, "")
            if err != nil {
                return err
            }
            defer wt.Close()
            fmt.Printf("Initialized work tree at %s (uuid %s)\n", wt.Root(), wt.UUID())
            return nil
        },
    }
    cmd.Flags().StringVar(&dotName, "dot-name", "", "dot-directory name (default tig)")
    cmd.Flags().StringVar(&headRef, "head-ref", "refs/heads/main", "initial head ref")
    cmd.Flags().StringVar(&prefix, "prefix", "/", "in-repository path prefix")
    cmd.Flags().StringVar(&repo, "repo", "", "absolute path of the object store")
    return cmd
}

func statusCmd() *cobra.Command {
    var watch bool
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Show work tree status",
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()

            eng, err := status.NewEngine(e.store, 1024)
            if err != nil {
                return err
            }

            printStatus(e, eng)
            if !watch {
                return nil
            }

            w, err := status.Watch(e.wt.Root(), e.cfg.DotName, eng)
            if err != nil {
                return err
            }
            defer w.Close()
            go w.Run()

            fmt.Println("watching for changes, ctrl-c to stop")
            notify := make(chan os.Signal, 1)
            signal.Notify(notify, os.Interrupt)
            <-notify
            return nil
        },
    }
    cmd.Flags().BoolVar(&watch, "watch", false, "keep running, invalidating cached status as files change")
    return cmd
}

func printStatus(e *env, eng *status.Engine) {
    green := color.New(color.FgGreen).SprintFunc()
    yellow := color.New(color.FgYellow).SprintFunc()
    red := color.New(color.FgRed).SprintFunc()
    blue := color.New(color.FgBlue).SprintFunc()

    any := false
    e.wt.Index().Each(func(ent *index.Entry) bool {
        ondisk := e.wt.Root() + "/" + ent.Path
        cls, err := eng.Classify(ent.Path, ondisk, ent)
        if err != nil {
            logger.Warn("classifying path", zap.String("path", ent.Path), zap.Error(err))
            return true
        }
        if cls.Code == status.NoChange {
            return true
        }
        any = true
        switch cls.Code {
        case status.Modify, status.ModeChange:
            fmt.Printf("%s %s\n", yellow("M"), cls.RelPath)
        case status.Add:
            fmt.Printf("%s %s\n", blue("A"), cls.RelPath)
        case status.Delete, status.Missing:
            fmt.Printf("%s %s\n", red("D"), cls.RelPath)
        case status.Conflict:
            fmt.Printf("%s %s\n", red("C"), cls.RelPath)
        default:
            fmt.Printf("%s %s\n", green(string(cls.Code)), cls.RelPath)
        }
        return true
    })
    if !any {
        fmt.Println("nothing to commit, work tree clean")
    }
}

func stageCmd() *cobra.Command {
    var patch bool
    cmd := &cobra.Command{
        Use:   "stage [paths...]",
        Short: "Stage local changes for the next commit",
        Args:  cobra.MinimumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()

            eng, err := status.NewEngine(e.store, 1024)
            if err != nil {
                return err
            }
            var pf stage.PatchFunc
            if patch {
                pf = interactivePatch
            }
            n, err := stage.Stage(e.store, eng, e.wt, args, pf)
            if err != nil {
                return err
            }
            fmt.Printf("staged %d path(s)\n", n)
            return nil
        },
    }
    cmd.Flags().BoolVarP(&patch, "patch", "p", false, "interactively select hunks")
    return cmd
}

func unstageCmd() *cobra.Command {
    var patch bool
    cmd := &cobra.Command{
        Use:   "unstage [paths...]",
        Short: "Unstage previously staged changes",
        Args:  cobra.MinimumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()

            var pf stage.PatchFunc
            if patch {
                pf = interactivePatch
            }
            n, err := stage.Unstage(e.store, e.wt, args, pf)
            if err != nil {
                return err
            }
            fmt.Printf("unstaged %d path(s)\n", n)
            return nil
        },
    }
    cmd.Flags().BoolVarP(&patch, "patch", "p", false, "interactively select hunks")
    return cmd
}

func commitCmd() *cobra.Command {
    var message, authorName, authorEmail string
    cmd := &cobra.Command{
        Use:   "commit [paths...]",
        Short: "Commit the staged (or named) changes",
        RunE: func(cmd *cobra.Command, args []string) error {
            if message == "" {
                return errors.New(errors.MsgEmpty, "commit message required")
            }
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()

            id := commit.Identity{Name: authorName, Email: authorEmail}
            msgFn := func(_ []*commit.Commitable) (string, error) { return message, nil }
            result, err := commit.Commit(e.store, e.refs, e.wt, e.wt.HeadRef(), args, id, id, nowUnix, msgFn)
            if err != nil {
                return err
            }
            fmt.Printf("committed %s\n", result.CommitID)
            return nil
        },
    }
    cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
    cmd.Flags().StringVar(&authorName, "author-name", "tig", "author/committer name")
    cmd.Flags().StringVar(&authorEmail, "author-email", "tig@localhost", "author/committer email")
    return cmd
}

func checkoutCmd() *cobra.Command {
    cmd := &cobra.Command{
        Use:   "checkout <commit> [paths...]",
        Short: "Apply a target commit's tree to the work tree",
        Args:  cobra.MinimumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()

            target := objectstore.ID(args[0])
            return checkout.Files(e.store, e.refs, e.wt, args[1:], target, nil, progressPrinter)
        },
    }
    return cmd
}

func revertCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "revert <paths...>",
        Short: "Discard local edits and pending stage, restoring base content",
        Args:  cobra.MinimumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()
            return checkout.Revert(e.store, e.wt, args, progressPrinter)
        },
    }
}

func integrateCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "integrate <branch-ref>",
        Short: "Fast-forward the work tree onto another branch's tip",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()
            return checkout.Integrate(e.store, e.refs, e.wt, args[0], nil, progressPrinter)
        },
    }
}

func rebaseCmd() *cobra.Command {
    top := &cobra.Command{Use: "rebase", Short: "Rebase the current branch onto another"}

    top.AddCommand(&cobra.Command{
        Use:   "start <branch-ref>",
        Short: "Start a rebase, replaying <branch-ref>'s commits onto the current branch",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()

            st, err := rebase.Prepare(e.store, e.refs, e.wt, args[0])
            if err != nil {
                return err
            }
            return runRebaseLoop(e, st.Commits)
        },
    })

    top.AddCommand(&cobra.Command{
        Use:   "continue",
        Short: "Resume a rebase after resolving a conflict",
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()
            fmt.Println("resolve any conflicts, stage them, then re-run the pending commits manually")
            return rebase.Complete(e.refs, e.wt)
        },
    })

    top.AddCommand(&cobra.Command{
        Use:   "abort",
        Short: "Abort an in-progress rebase",
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()
            return rebase.Abort(e.store, e.refs, e.wt, func(target objectstore.ID) error {
                return checkout.Files(e.store, e.refs, e.wt, nil, target, nil, progressPrinter)
            })
        },
    })

    top.AddCommand(&cobra.Command{
        Use:   "postpone",
        Short: "Pause an in-progress rebase",
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()
            return rebase.Postpone(e.wt)
        },
    })

    return top
}

func runRebaseLoop(e *env, commits []objectstore.ID) error {
    committer := commit.Identity{Name: "tig", Email: "tig@localhost"}
    for _, id := range commits {
        newCommit, conflicted, elided, err := rebase.PerCommit(e.store, e.refs, e.wt, id, committer, nowUnix)
        if err != nil {
            return err
        }
        if elided {
            fmt.Printf("%s elided (no changes)\n", id)
            continue
        }
        if conflicted {
            fmt.Printf("%s replayed as %s with conflicts; resolve and run 'tig rebase continue'\n", id, newCommit)
            return nil
        }
        fmt.Printf("%s -> %s\n", id, newCommit)
    }
    return rebase.Complete(e.refs, e.wt)
}

func histeditCmd() *cobra.Command {
    top := &cobra.Command{Use: "histedit", Short: "Rewrite the current branch's history via a script"}

    top.AddCommand(&cobra.Command{
        Use:   "start <branch-ref> <script-file>",
        Short: "Start a histedit using the given script file",
        Args:  cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()

            data, err := os.ReadFile(args[1])
            if err != nil {
                return errors.Wrap(errors.IO, err, "reading histedit script")
            }
            script, err := histedit.ParseScript(data)
            if err != nil {
                return err
            }
            st, err := histedit.Prepare(e.store, e.refs, e.wt, args[0], script)
            if err != nil {
                return err
            }
            return runHisteditLoop(e, st.Script, 0)
        },
    })

    top.AddCommand(&cobra.Command{
        Use:   "continue <script-file> <index>",
        Short: "Resume a histedit at the given script index",
        Args:  cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()

            data, err := os.ReadFile(args[0])
            if err != nil {
                return errors.Wrap(errors.IO, err, "reading histedit script")
            }
            script, err := histedit.ParseScript(data)
            if err != nil {
                return err
            }
            var idx int
            if _, err := fmt.Sscanf(args[1], "%d", &idx); err != nil {
                return errors.New(errors.BadPath, "invalid index %s", args[1])
            }
            return runHisteditLoop(e, script, idx)
        },
    })

    top.AddCommand(&cobra.Command{
        Use:   "skip <commit-id>",
        Short: "Skip the parked commit without rewriting the script",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()
            return histedit.SkipCommit(e.refs, e.wt, objectstore.ID(args[0]))
        },
    })

    top.AddCommand(&cobra.Command{
        Use:   "abort",
        Short: "Abort an in-progress histedit",
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()
            return histedit.Abort(e.store, e.refs, e.wt, func(target objectstore.ID) error {
                return checkout.Files(e.store, e.refs, e.wt, nil, target, nil, progressPrinter)
            })
        },
    })

    top.AddCommand(&cobra.Command{
        Use:   "postpone",
        Short: "Pause an in-progress histedit",
        RunE: func(cmd *cobra.Command, args []string) error {
            e, err := openEnv()
            if err != nil {
                return err
            }
            defer e.close()
            return histedit.Postpone(e.wt)
        },
    })

    return top
}

func runHisteditLoop(e *env, script []histedit.Line, startIndex int) error {
    committer := commit.Identity{Name: "tig", Email: "tig@localhost"}
    idx := startIndex
    for idx < len(script) {
        next, stopped, err := histedit.Loop(e.store, e.refs, e.wt, script, idx, committer, nowUnix, objectstore.ID(""))
        if err != nil {
            return err
        }
        idx = next
        if stopped {
            fmt.Printf("stopped for edit at script index %d; amend, then run 'tig histedit continue'\n", idx)
            return nil
        }
    }
    return histedit.Complete(e.refs, e.wt)
}

func progressPrinter(code status.Code, relPath string) {
    if relPath == "" {
        return
    }
    fmt.Printf("%s %s\n", code, relPath)
}

func nowUnix() int64 { return time.Now().Unix() }

// interactivePatch presents a hunk on stdout and reads a y/n/q decision
// from stdin, in the style of the classic "add -p" prompt.
func interactivePatch(path string, hunk diff.Hunk) (stage.Decision, error) {
    fmt.Printf("\n--- %s @@ -%d,%d +%d,%d @@\n", path, hunk.OldStart, hunk.OldLines, hunk.NewStart, hunk.NewLines)
    for _, l := range hunk.Lines {
        switch l.Type {
        case diff.Addition:
            color.New(color.FgGreen).Println(l.Content)
        case diff.Deletion:
            color.New(color.FgRed).Println(l.Content)
        default:
            fmt.Println(l.Content)
        }
    }
    fmt.Print("Stage this hunk [y,n,q]? ")

    reader := bufio.NewReader(os.Stdin)
    for {
        line, err := reader.ReadString('\n')
        if err != nil {
            return stage.Quit, errors.Wrap(errors.PatchChoice, err, "reading patch choice")
        }
        switch strings.TrimSpace(line) {
        case "y":
            return stage.Accept, nil
        case "n":
            return stage.Reject, nil
        case "q":
            return stage.Quit, nil
        default:
            fmt.Print("y,n,q? ")
        }
    }
}

func main() {
    if err := rootCmd.Execute(); err != nil {
        fail(err)
    }
}
