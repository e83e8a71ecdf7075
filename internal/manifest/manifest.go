package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
	goyaml "sigs.k8s.io/yaml/goyaml.v3"

	"github.com/tagwatch/tagwatch/internal/logging"
)

const (
	KindDeployment  = "Deployment"
	KindStatefulSet = "StatefulSet"
)

// ErrMultipleDocuments is returned when a split document still decodes to
// more than one YAML document. Rewriting it would drop the later ones.
var ErrMultipleDocuments = errors.New("document holds more than one yaml document")

// typeMeta is read before full decoding to pick the concrete type.
type typeMeta struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
}

// BaseImage returns the repository part of image, without tag or digest,
// exactly as written.
func BaseImage(image string) (string, error) {
	ref, err := reference.Parse(image)
	if err != nil {
		return "", fmt.Errorf("invalid image %q: %w", image, err)
	}
	named, ok := ref.(reference.Named)
	if !ok {
		return "", fmt.Errorf("image %q has no repository name", image)
	}
	return named.Name(), nil
}

// PatchDir rewrites every YAML manifest under root whose container images
// contain baseImage. It returns the paths of the files it changed.
func PatchDir(root, baseImage, newImage string) ([]string, error) {
	var changed []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		ok, err := PatchFile(path, baseImage, newImage)
		if err != nil {
			return err
		}
		if ok {
			changed = append(changed, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// PatchFile rewrites path in place only when at least one image changed.
func PatchFile(path, baseImage, newImage string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	out, changed, err := Patch(data, baseImage, newImage)
	if err != nil {
		logging.GetLogger().Debugf("skipping %s: %v", path, err)
		return false, nil
	}
	if !changed {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return false, err
	}
	logging.GetLogger().Infof("updated %s to %s", path, newImage)
	return true, nil
}

// SplitDocuments splits a YAML stream on its "---" separator lines. Separators
// may carry a trailing comment and CRLF line endings.
func SplitDocuments(data []byte) ([][]byte, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))
	var docs [][]byte
	for {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}
		docs = append(docs, doc)
	}
}

func countDocuments(doc []byte) (int, error) {
	dec := goyaml.NewDecoder(bytes.NewReader(doc))
	n := 0
	for {
		var node goyaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Patch applies the image rewrite to every document of a YAML stream.
// Documents of other kinds are carried over untouched.
func Patch(data []byte, baseImage, newImage string) ([]byte, bool, error) {
	docs, err := SplitDocuments(data)
	if err != nil {
		return nil, false, err
	}
	changed := false
	for i, doc := range docs {
		out, ok, err := patchDocument(doc, baseImage, newImage)
		if err != nil {
			return nil, false, err
		}
		if ok {
			docs[i] = out
			changed = true
		}
	}
	if !changed {
		return data, false, nil
	}

	separator := "---\n"
	if bytes.Contains(data, []byte("\r\n")) {
		separator = "---\r\n"
	}
	var buf bytes.Buffer
	for i, doc := range docs {
		if i > 0 {
			buf.WriteString(separator)
		}
		buf.Write(doc)
		if !bytes.HasSuffix(doc, []byte("\n")) {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), true, nil
}

func patchDocument(doc []byte, baseImage, newImage string) ([]byte, bool, error) {
	var meta typeMeta
	if err := yaml.Unmarshal(doc, &meta); err != nil {
		// Not a Kubernetes object, e.g. a top-level list.
		return nil, false, nil
	}
	if meta.APIVersion != appsv1.SchemeGroupVersion.String() {
		return nil, false, nil
	}

	if meta.Kind != KindDeployment && meta.Kind != KindStatefulSet {
		return nil, false, nil
	}
	n, err := countDocuments(doc)
	if err != nil {
		return nil, false, err
	}
	if n > 1 {
		return nil, false, ErrMultipleDocuments
	}

	switch meta.Kind {
	case KindDeployment:
		var deployment appsv1.Deployment
		if err := yaml.Unmarshal(doc, &deployment); err != nil {
			return nil, false, err
		}
		if !patchPodSpec(&deployment.Spec.Template.Spec, baseImage, newImage) {
			return nil, false, nil
		}
		out, err := yaml.Marshal(&deployment)
		return out, err == nil, err
	case KindStatefulSet:
		var statefulSet appsv1.StatefulSet
		if err := yaml.Unmarshal(doc, &statefulSet); err != nil {
			return nil, false, err
		}
		if !patchPodSpec(&statefulSet.Spec.Template.Spec, baseImage, newImage) {
			return nil, false, nil
		}
		out, err := yaml.Marshal(&statefulSet)
		return out, err == nil, err
	}
	return nil, false, nil
}

func patchPodSpec(spec *corev1.PodSpec, baseImage, newImage string) bool {
	changed := false
	for _, containers := range [][]corev1.Container{spec.InitContainers, spec.Containers} {
		for i := range containers {
			if strings.Contains(containers[i].Image, baseImage) && containers[i].Image != newImage {
				containers[i].Image = newImage
				changed = true
			}
		}
	}
	return changed
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
