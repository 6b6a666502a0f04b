package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rancher/agent-control/internal/agenttype"
	"github.com/rancher/agent-control/internal/collection"
	"github.com/rancher/agent-control/internal/configrepo"
	"github.com/rancher/agent-control/internal/mgmtclient"
	"github.com/rancher/agent-control/internal/signature"
	"github.com/rancher/agent-control/internal/subagent"
	"github.com/rancher/agent-control/internal/validators"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/client-go/tools/clientcmd"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
)

// newRunCommand wires C1-C11 into a single long-running process: a
// FileRepository-backed config store, an optional controller-runtime
// client for cluster agent types, the infra-agent content denylist, and
// one subagent.SubAgent per entry in the agents manifest, all registered
// with a collection.Collection until SIGTERM/SIGINT.
func newRunCommand() *cobra.Command {
	var (
		stateDir       string
		logDir         string
		manifestPath   string
		kubeconfig     string
		namespace      string
		certDir        string
		certURL        string
		repoAllowList  []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent-control supervisor process",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.WithField("component", "agent-control")

			manifest, err := loadManifest(manifestPath)
			if err != nil {
				return err
			}

			ctrlClient, err := buildControllerRuntimeClient(kubeconfig)
			if err != nil {
				return fmt.Errorf("building kubernetes client: %w", err)
			}
			if ctrlClient == nil {
				log.Info("no kubeconfig supplied, cluster agent types are unavailable")
			}

			verifier, err := buildVerifier(certDir, certURL)
			if err != nil {
				return err
			}

			chain, err := buildValidatorChain(repoAllowList)
			if err != nil {
				return err
			}

			repo := configrepo.NewFileRepository(stateDir)
			mgmt := mgmtclient.NewLoggingClient(log)
			sup := newBuilder(logDir, namespace, ctrlClient, log)
			coll := collection.New(log)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for _, entry := range manifest.Agents {
				atData, err := os.ReadFile(entry.AgentTypeFile)
				if err != nil {
					return fmt.Errorf("agent %q: reading agent-type file: %w", entry.ID, err)
				}
				at, err := agenttype.ParseAgentType(atData)
				if err != nil {
					return fmt.Errorf("agent %q: parsing agent-type file: %w", entry.ID, err)
				}

				deps := subagent.Deps{
					Repository:       repo,
					Verifier:         verifier,
					Validators:       chain,
					ManagementClient: mgmt,
					Persister:        agenttype.DiskPersister{},
					Builder:          sup,
					BaseDir:          filepath.Join(stateDir, "render", entry.ID),
					Attributes:       map[string]string{"id": entry.ID},
					EnvVars:          envAsMap(),
					ACVars:           map[string]string{"namespace": namespace},
					Secrets:          map[string]string{},
					Log:              log.WithField("agent_id", entry.ID),
				}
				agent := subagent.New(entry.ID, at, entry.Capabilities, deps)
				coll.Start(ctx, entry.ID, agent)
				log.WithField("agent_id", entry.ID).Info("sub-agent registered")
			}

			<-ctx.Done()
			log.Info("shutdown signal received, stopping sub-agents")
			return coll.StopAll()
		},
	}

	cmd.Flags().StringVar(&stateDir, "state-dir", "/var/lib/agent-control", "directory for persisted local/remote config")
	cmd.Flags().StringVar(&logDir, "log-dir", "/var/log/agent-control", "directory for supervised-executable stdout/stderr logs")
	cmd.Flags().StringVar(&manifestPath, "agents-manifest", "", "path to the agents manifest YAML file")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "path to a kubeconfig file; empty disables cluster agent types")
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace applied cluster objects are created in")
	cmd.Flags().StringVar(&certDir, "cert-dir", "", "directory of <key-id>.pem certificates for signature verification")
	cmd.Flags().StringVar(&certURL, "cert-url", "", "base URL to fetch <key-id> certificates from over HTTPS")
	cmd.Flags().StringArrayVar(&repoAllowList, "allowed-repository", nil, "allowed nrdot repository value, repeatable")
	_ = cmd.MarkFlagRequired("agents-manifest")
	return cmd
}

func buildControllerRuntimeClient(kubeconfigPath string) (ctrlclient.Client, error) {
	if kubeconfigPath == "" {
		return nil, nil
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, err
	}
	return ctrlclient.New(cfg, ctrlclient.Options{})
}

func buildVerifier(certDir, certURL string) (signature.Verifier, error) {
	switch {
	case certDir != "":
		return signature.NewStore(&signature.FileCertificateFetcher{Dir: certDir}), nil
	case certURL != "":
		return signature.NewStore(signature.NewHTTPCertificateFetcher(certURL)), nil
	default:
		return signature.NoopVerifier{}, nil
	}
}

func buildValidatorChain(allowedRepos []string) (*validators.Chain, error) {
	chain, err := validators.InfraAgentDenylist()
	if err != nil {
		return nil, fmt.Errorf("building content validator chain: %w", err)
	}
	if len(allowedRepos) > 0 {
		chain.Validators = append(chain.Validators, validators.NewRepositoryAllowList(allowedRepos...))
	}
	return chain, nil
}
