package chain

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"

	logx "crawlchain/pkg/logx"
)

// ExecLauncher starts a task as a child process whose standard streams are
// the parent's own. The child is not tied to ctx and keeps running after
// the parent exits.
type ExecLauncher struct {
	// Command is the argv template. "{task}", "{entry}" and "{config}" are
	// substituted. Empty means: <current executable> -config {config} run {task}.
	Command    []string
	ConfigPath string
	Dir        string
	Env        []string
	Stdout     io.Writer
	Stderr     io.Writer

	log        logx.Logger
	executable func() (string, error)
	start      func(*exec.Cmd) error
}

func NewExecLauncher(command []string, configPath string, log logx.Logger) *ExecLauncher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecLauncher{
		Command:    command,
		ConfigPath: configPath,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		log:        log.With(logx.String("comp", "launcher")),
		executable: os.Executable,
		start:      startAndReap,
	}
}

func (l *ExecLauncher) Launch(_ context.Context, name, entry string) error {
	argv, err := l.argv(name, entry)
	if err != nil {
		return err
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = l.Dir
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	start := l.start
	if start == nil {
		start = startAndReap
	}
	if err := start(cmd); err != nil {
		return err
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	l.log.Info("task process started", logx.String("task", name), logx.Strings("argv", argv), logx.Int("pid", pid))
	return nil
}

func (l *ExecLauncher) argv(name, entry string) ([]string, error) {
	tmpl := l.Command
	if len(tmpl) == 0 {
		exe, err := l.executable()
		if err != nil {
			return nil, err
		}
		tmpl = []string{exe}
		if l.ConfigPath != "" {
			tmpl = append(tmpl, "-config", "{config}")
		}
		tmpl = append(tmpl, "run", "{task}")
	}
	r := strings.NewReplacer("{task}", name, "{entry}", entry, "{config}", l.ConfigPath)
	out := make([]string, 0, len(tmpl))
	for _, a := range tmpl {
		out = append(out, r.Replace(a))
	}
	if strings.TrimSpace(out[0]) == "" {
		return nil, errors.New("launch command is empty")
	}
	return out, nil
}

// startAndReap starts cmd and waits for it in the background so the child
// does not linger as a zombie while the parent is still alive.
func startAndReap(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
