// Command huskyd is the daemon process entrypoint: it loads
// configuration, opens the PCM device, stands up the bus protocol
// server, and runs the main loop until interrupted. See SPEC_FULL.md §3
// cmd/huskyd.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/kg-audio/huskyd/internal/buffer"
	"github.com/kg-audio/huskyd/internal/busserver"
	"github.com/kg-audio/huskyd/internal/config"
	"github.com/kg-audio/huskyd/internal/diag"
	"github.com/kg-audio/huskyd/internal/format"
	"github.com/kg-audio/huskyd/internal/loopctl"
	"github.com/kg-audio/huskyd/internal/pcmio"
	"github.com/kg-audio/huskyd/internal/registry"
)

func main() {
	flags := config.RegisterFlags(pflag.CommandLine)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - native multimedia routing daemon\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	cfg, err := config.Load(*flags.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	flags.Apply(pflag.CommandLine, &cfg)

	logger := log.NewWithOptions(os.Stderr, log.Options{Level: parseLevel(cfg.Logging.Level)})

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func run(cfg config.Config, logger *log.Logger) error {
	deviceName, err := pcmio.ResolveDeviceName(cfg.Device.Name)
	if err != nil {
		return fmt.Errorf("resolve device: %w", err)
	}

	dev, err := pcmio.Open(deviceName, true)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	if err := dev.SetFormat(format.S16LE, cfg.Device.Channels, cfg.Device.Rate, cfg.Device.AllowNearestMatch); err != nil {
		return fmt.Errorf("negotiate device format: %w", err)
	}
	logger.Info("device opened", "device", deviceName, "rate", dev.Rate, "channels", dev.Channels, "period", dev.PeriodFrames)

	pool := buffer.NewPool(buffer.Playback, 8, dev.BufferFrames, dev.FrameBytes)
	pool.Start()

	loop, err := pcmio.NewLoop(dev, pool, true, dev.PeriodFrames)
	if err != nil {
		return fmt.Errorf("construct io loop: %w", err)
	}
	defer loop.Close()

	if cfg.Diag.Dir != "" {
		dumper, err := diag.NewDumper(cfg.Diag.Dir, logger)
		if err != nil {
			logger.Error("diag: dumper disabled", "err", err)
		} else {
			loop.OnXrun = func() {
				free, ready, inFlight := pool.Occupancy()
				bw, dt, base := diag.SnapshotDLL(loop.Clock())
				now := time.Now()
				dumper.Dump(diag.Snapshot{
					Time:      now,
					Bandwidth: bw,
					Dt:        dt,
					Base:      base,
					Buffers: []diag.BufferOccupancy{{
						Direction: "playback",
						Free:      free,
						Ready:     ready,
						InFlight:  inFlight,
						Total:     pool.NumBuffers(),
					}},
				}, now)
				logger.Warn("xrun recovered", "bw", bw, "dt", dt)
			}
		}
	}

	if err := loop.ArmInitial(); err != nil {
		return fmt.Errorf("arm initial timer: %w", err)
	}

	dataQueue, err := loopctl.NewQueue()
	if err != nil {
		return fmt.Errorf("construct data loop queue: %w", err)
	}
	defer dataQueue.Close()

	reg := registry.New()
	srv, err := busserver.New(busserver.Config{RuntimeDir: cfg.Bus.RuntimeDir, Name: cfg.Bus.Name}, reg, logger)
	if err != nil {
		return fmt.Errorf("start bus server: %w", err)
	}
	defer srv.Close()
	logger.Info("bus server listening", "runtime_dir", cfg.Bus.RuntimeDir, "name", cfg.Bus.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Data loop: one goroutine per device, suspending only on the timerfd
	// and dataQueue's loopctl wakeup fd (spec.md §5 Execution domains /
	// Suspension points). It never touches the registry or client sockets
	// directly; the main loop reaches into it only via loop_invoke.
	stopped := false
	dataLoopDone := make(chan struct{})
	go func() {
		defer close(dataLoopDone)
		runDataLoop(loop, dataQueue, logger, &stopped)
	}()

	paused := false

	// Main loop: single-threaded, owns the accept socket, every client
	// socket, and all registry state (spec.md §5). busserver.RunOnce
	// already suspends on poll over exactly that fd set.
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				paused = !paused
				if paused {
					logger.Info("pausing data loop")
					if err := loopctl.Invoke(dataQueue, func(any) any { return loop.Pause() }, nil, false); err != nil {
						logger.Error("pause failed", "err", err)
					}
				} else {
					logger.Info("resuming data loop")
					if err := loopctl.Invoke(dataQueue, func(any) any { return loop.Resume() }, nil, false); err != nil {
						logger.Error("resume failed", "err", err)
					}
				}
				continue
			}
			logger.Info("shutting down")
			loopctl.Invoke(dataQueue, func(any) any { stopped = true; return nil }, nil, true)
			<-dataLoopDone
			return nil
		default:
		}
		if err := srv.RunOnce(200); err != nil {
			logger.Error("bus server error", "err", err)
		}
	}
}

func runDataLoop(loop *pcmio.Loop, queue *loopctl.Queue, logger *log.Logger, stopped *bool) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		logger.Error("data loop: epoll_create1 failed", "err", err)
		return
	}
	defer unix.Close(epfd)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, loop.TimerFd(), &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(loop.TimerFd())}); err != nil {
		logger.Error("data loop: epoll_ctl timerfd failed", "err", err)
		return
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, queue.WakeFd(), &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(queue.WakeFd())}); err != nil {
		logger.Error("data loop: epoll_ctl wakefd failed", "err", err)
		return
	}

	for {
		var events [4]unix.EpollEvent
		n, err := unix.EpollWait(epfd, events[:], 200)
		if err != nil && err != unix.EINTR {
			logger.Error("data loop: epoll_wait failed", "err", err)
			return
		}
		for i := 0; i < n; i++ {
			switch int(events[i].Fd) {
			case loop.TimerFd():
				if err := loop.HandleTimeout(); err != nil {
					logger.Error("io loop error", "err", err)
				}
			case queue.WakeFd():
				queue.Drain()
			}
		}
		if *stopped {
			return
		}
	}
}
