package pocket

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/thavlik/molsuite/pending"
)

const podScript = `set -u
fail() {
  curl -fsS -H 'Content-Type: application/json' \
    -d "{\"correlation_id\":\"$CORRELATION_ID\",\"msg\":\"$1\"}" \
    "http://$MOLSUITE_OPERATOR/error"
  exit 1
}
mkdir -p /tmp/in /tmp/out
curl -fsSL -o "/tmp/in/$PROTEIN_NAME" "$PROTEIN_URL" || fail "failed to download protein"
"$P2RANK_HOME/prank" predict -f "/tmp/in/$PROTEIN_NAME" -o /tmp/out || fail "prank predict failed"
curl -fsS -F "data=@/tmp/out/${PROTEIN_NAME}_predictions.csv" \
  "http://$MOLSUITE_OPERATOR/complete?correlation_id=$CORRELATION_ID" || fail "failed to upload predictions"
`

// KubeRunner runs P2Rank in a pod per prediction. The pod fetches
// the protein over HTTP and posts its predictions back to the
// service, which hands them to the waiting Predict call.
type KubeRunner struct {
	Clientset kubernetes.Interface
	Namespace string
	Image     string
	AppLabel  string
	// Home is the P2Rank installation root inside the image.
	Home string
	// OperatorAddress is host:port of this service as seen from pods.
	OperatorAddress string
	Pending         *pending.Registry
	// Resolve turns a local protein path into a URL the pod can fetch.
	Resolve func(proteinPath string) (string, error)
}

func (k *KubeRunner) createPodObject(proteinPath, proteinURL, correlationID string) *v1.Pod {
	return &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-%s", k.AppLabel, correlationID[:8]),
			Namespace: k.Namespace,
			Labels: map[string]string{
				"app": k.AppLabel,
			},
		},
		Spec: v1.PodSpec{
			RestartPolicy: v1.RestartPolicyNever,
			Containers: []v1.Container{
				{
					ImagePullPolicy: v1.PullIfNotPresent,
					Name:            "p2rank",
					Image:           k.Image,
					Command:         []string{"sh", "-c", podScript},
					Resources: v1.ResourceRequirements{
						Limits: map[v1.ResourceName]resource.Quantity{
							"cpu":    resource.MustParse("1000m"),
							"memory": resource.MustParse("2Gi"),
						},
					},
					Env: []v1.EnvVar{
						{Name: "MOLSUITE_OPERATOR", Value: k.OperatorAddress},
						{Name: "CORRELATION_ID", Value: correlationID},
						{Name: "PROTEIN_URL", Value: proteinURL},
						{Name: "PROTEIN_NAME", Value: filepath.Base(proteinPath)},
						{Name: "P2RANK_HOME", Value: k.Home},
					},
				},
			},
		},
	}
}

// Predict runs one prediction pod and waits for its callback. The
// pod is deleted when Predict returns.
func (k *KubeRunner) Predict(ctx context.Context, proteinPath string) (*Pockets, error) {
	if proteinPath == "" {
		return nil, &PreconditionError{Msg: "Provide both P2Rank path and protein path."}
	}
	proteinURL, err := k.Resolve(proteinPath)
	if err != nil {
		return nil, fmt.Errorf("resolve protein: %v", err)
	}
	correlationID := uuid.New().String()
	log.Printf("Running pocket detection %s, correlationID=%s", filepath.Base(proteinPath), correlationID)
	pod := k.createPodObject(proteinPath, proteinURL, correlationID)
	req := k.Pending.Register(correlationID)
	if _, err := k.Clientset.CoreV1().Pods(k.Namespace).Create(
		ctx,
		pod,
		metav1.CreateOptions{},
	); err != nil {
		k.Pending.Forget(correlationID)
		return nil, &ToolError{Op: "create pod", Err: err}
	}
	defer func() {
		if err := k.Clientset.CoreV1().Pods(k.Namespace).Delete(
			context.Background(),
			pod.Name,
			metav1.DeleteOptions{},
		); err != nil {
			log.Printf("Warning: failed to delete pod: %v", err)
		} else {
			log.Printf("Deleted pod %s", pod.Name)
		}
	}()
	log.Printf("Pod %s created.", pod.Name)
	body, err := k.Pending.Wait(ctx, correlationID, req)
	if err != nil {
		return nil, &ToolError{Op: "predict", Err: err}
	}
	pockets, err := ParsePredictions(bytes.NewReader(body))
	if err != nil {
		return nil, &ToolError{Op: "parse", Err: err}
	}
	return pockets, nil
}

// Prune deletes finished prediction pods left behind by earlier runs.
func (k *KubeRunner) Prune(ctx context.Context) error {
	resp, err := k.Clientset.CoreV1().Pods(k.Namespace).List(
		ctx,
		metav1.ListOptions{
			LabelSelector: fmt.Sprintf("app=%s", k.AppLabel),
		},
	)
	if err != nil {
		return fmt.Errorf("list pods: %v", err)
	}
	for _, pod := range resp.Items {
		switch pod.Status.Phase {
		case v1.PodSucceeded, v1.PodFailed:
			if err := k.Clientset.CoreV1().Pods(k.Namespace).Delete(
				ctx,
				pod.Name,
				metav1.DeleteOptions{},
			); err != nil {
				return fmt.Errorf("delete pod %s: %v", pod.Name, err)
			}
			log.Printf("Pruned pod %s", pod.Name)
		default:
		}
	}
	return nil
}
