//go:build integration

package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
	"github.com/keymend/keymend/internal/engine"
	"github.com/keymend/keymend/internal/probe"
	"github.com/keymend/keymend/test/fixtures"
)

const activatedExtensionList = `1 extension(s)
--- com.apple.system_extension.driver_extension
enabled	active	teamID	bundleID (version)	name	[state]
*	*	G43BCU2T37	org.pqrs.Karabiner-DriverKit-VirtualHIDDevice (1.8.0/1.8.0)	org.pqrs.Karabiner-DriverKit-VirtualHIDDevice	[activated enabled]
`

var _ = Describe("Reconciliation", func() {
	const (
		kanataBin  = "/opt/homebrew/bin/kanata"
		brewBin    = "/opt/homebrew/bin/brew"
		driverApp  = "/Applications/.Karabiner-VirtualHIDDevice-Manager.app"
		daemonBin  = "/Library/Application Support/org.pqrs/Karabiner-DriverKit-VirtualHIDDevice/Applications/Karabiner-VirtualHIDDevice-Daemon.app/Contents/MacOS/Karabiner-VirtualHIDDevice-Daemon"
		grabberBin = "/Library/Application Support/org.pqrs/Karabiner-Elements/bin/karabiner_grabber"
		tcpPort    = 37000
	)

	var (
		tmpDir    string
		mac       *fixtures.FakeMac
		runner    *fixtures.ScriptedRunner
		checker   *fixtures.StaticChecker
		procs     *fixtures.StaticProcesses
		services  *fixtures.StaticServices
		eng       *engine.Engine
		newEngine func(engine.Options) *engine.Engine
		cfgPath   string
	)

	grantAll := func() []fixtures.TCCGrant {
		return []fixtures.TCCGrant{
			fixtures.Granted("kTCCServiceListenEvent", "com.keymend.app"),
			fixtures.Granted("kTCCServiceListenEvent", kanataBin),
			fixtures.Granted("kTCCServiceAccessibility", "com.keymend.app"),
			fixtures.Granted("kTCCServiceAccessibility", kanataBin),
		}
	}

	// The outer setup builds a fully healthy machine; each context below
	// breaks exactly one thing and watches the engine describe the break.
	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "keymend-integration-*")
		Expect(err).NotTo(HaveOccurred())

		mac = fixtures.NewFakeMac(tmpDir)
		cfgPath = filepath.Join(tmpDir, "keymend.kbd")

		tccPath, err := mac.CreateTCCDB(grantAll()...)
		Expect(err).NotTo(HaveOccurred())
		infoPath, err := mac.CreateDriverInfoPlist("5.0.0")
		Expect(err).NotTo(HaveOccurred())
		logPath, err := mac.CreateKanataLog(
			"12:00:01 [INFO] kanata v1.8.0 starting",
			"12:00:02 [INFO] driver_connected 1",
			"12:00:03 [INFO] entering the event loop",
		)
		Expect(err).NotTo(HaveOccurred())

		runner = fixtures.NewScriptedRunner()
		runner.Script("15.3.1\n", "sw_vers", "-productVersion")
		runner.Script(activatedExtensionList, "systemextensionsctl", "list")
		runner.Script("system disabled services = {\n}\n", "launchctl", "print-disabled", "system")

		checker = fixtures.NewStaticChecker(brewBin, kanataBin, driverApp, infoPath)

		procs = fixtures.NewStaticProcesses(os.Getpid())
		procs.Add(812, kanataBin+" --cfg "+cfgPath+" --port 37000")
		procs.Add(601, daemonBin)

		services = fixtures.AllHealthyServices(812, cfgPath)

		logger := zap.NewNop()
		dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
			c1, c2 := net.Pipe()
			go c2.Close()
			return c1, nil
		}
		newEngine = func(opts engine.Options) *engine.Engine {
			return engine.New(engine.Probes{
				Conflicts:     probe.NewConflictProbe(procs, services, true, logger),
				Permissions:   probe.NewTCCPermissionProbeWithDeps(kanataBin, logger, runner, []string{tccPath}),
				Components:    probe.NewComponentProbeWithDeps(procs, services, kanataBin, cfgPath, logger, runner, checker),
				Health:        probe.NewHealthProbeWithDeps(procs, logPath, tcpPort, logger, dial),
				Compatibility: probe.NewCompatibilityProbeWithDeps(logger, runner, checker, infoPath),
				Orphans:       probe.NewOrphanProbe(procs, services, cfgPath, logger),
			}, opts, logger)
		}
		eng = newEngine(engine.Options{})
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("a healthy system", func() {
		It("reconciles to active with nothing to do", func() {
			result, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(result.State.Kind).To(Equal(domain.StateActive))
			Expect(result.Issues).To(BeEmpty())
			Expect(result.Actions).To(BeEmpty())
			Expect(result.PassID).NotTo(BeEmpty())
		})

		It("assigns a fresh pass id to every pass", func() {
			first, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())
			second, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(second.PassID).NotTo(Equal(first.PassID))
		})
	})

	Describe("with a permission revoked", func() {
		BeforeEach(func() {
			// drop the daemon's accessibility grant
			_, err := mac.CreateTCCDB(grantAll()[:3]...)
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports missing-permissions with no automatic fix", func() {
			result, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(result.State.Kind).To(Equal(domain.StateMissingPermissions))
			Expect(result.State.MissingPermissions).To(HaveLen(1))
			Expect(result.Issues).NotTo(BeEmpty())
			Expect(result.Actions).To(BeEmpty(), "permission grants cannot be automated")
		})

		It("converges to active once the grant appears", func() {
			blocked, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(blocked.State.Kind).To(Equal(domain.StateMissingPermissions))

			_, err = mac.CreateTCCDB(grantAll()...)
			Expect(err).NotTo(HaveOccurred())

			healthy, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy.State.Kind).To(Equal(domain.StateActive))
		})
	})

	Describe("with the kanata binary missing", func() {
		BeforeEach(func() {
			checker.Remove(kanataBin)
			procs.RemovePID(812)
		})

		It("recommends the Homebrew install and nothing else", func() {
			result, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(result.State.Kind).To(Equal(domain.StateMissingComponents))
			Expect(result.State.MissingComponents).To(ContainElement(domain.ComponentKanataBinary))
			Expect(result.Actions).To(ConsistOf(domain.ActionInstallViaBrew))
		})

		It("converges once the binary is installed and the service restarts", func() {
			blocked, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(blocked.State.Kind).To(Equal(domain.StateMissingComponents))

			checker.Add(kanataBin)
			procs.Add(812, kanataBin+" --cfg "+cfgPath+" --port 37000")

			healthy, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(healthy.State.Kind).To(Equal(domain.StateActive))
		})
	})

	Describe("while Karabiner Elements grabs the keyboard", func() {
		BeforeEach(func() {
			procs.Add(333, grabberBin)
			// widen the debounce so two passes plus a sleep land reliably
			// on either side of the window
			eng = newEngine(engine.Options{DebounceWindow: 2 * time.Second})
		})

		It("surfaces the conflict with the terminate fix", func() {
			result, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(result.State.Kind).To(Equal(domain.StateConflictsDetected))
			Expect(result.State.Conflicts).To(HaveLen(1))
			Expect(result.State.Conflicts[0].PID).To(Equal(333))
			Expect(result.Actions).To(ContainElement(domain.ActionTerminateConflicts))
		})

		It("holds the conflict state through the debounce window after the process dies", func() {
			first, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(first.State.Kind).To(Equal(domain.StateConflictsDetected))

			procs.RemovePID(333)

			second, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(second.State.Kind).To(Equal(domain.StateConflictsDetected),
				"a flip inside the window republishes the previous observation")

			time.Sleep(2*time.Second + 200*time.Millisecond)

			third, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(third.State.Kind).To(Equal(domain.StateActive))
		})
	})

	Describe("with an externally started kanata", func() {
		BeforeEach(func() {
			procs.Add(900, kanataBin+" --cfg /tmp/rogue.kbd")
		})

		It("recommends replacing the process with the managed service", func() {
			result, err := eng.Reconcile(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(result.State.Kind).To(Equal(domain.StateActive),
				"an external process is advisory while the managed service is healthy")
			Expect(result.Snapshot.Components.Orphan).NotTo(BeNil())
			Expect(result.Actions).To(ContainElement(domain.ActionReplaceOrphanedProcess))
		})
	})
})
