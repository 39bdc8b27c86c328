package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"surveyrun/internal/model"
)

var surveyExtensions = []string{".json", ".yaml", ".yml"}

type surveyFileRepo struct {
	dir string
}

// NewSurveyFileRepo reads survey definitions from <dir>/<surveyId>.{json,yaml,yml}
func NewSurveyFileRepo(dir string) SurveyRepo {
	return &surveyFileRepo{dir: dir}
}

// DecodeSurvey parses a JSON or YAML definition and checks its references
func DecodeSurvey(data []byte, ext, fallbackID string) (*model.Survey, error) {
	var survey model.Survey
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &survey); err != nil {
			return nil, errors.Wrap(err, "parse yaml survey")
		}
	default:
		if err := json.Unmarshal(data, &survey); err != nil {
			return nil, errors.Wrap(err, "parse json survey")
		}
	}
	if survey.ID == "" {
		survey.ID = fallbackID
	}
	if err := survey.Validate(); err != nil {
		return nil, err
	}
	return &survey, nil
}

func (r *surveyFileRepo) GetByID(_ context.Context, id string) (*model.Survey, error) {
	if id == "" || filepath.Base(id) != id {
		return nil, nil
	}
	for _, ext := range surveyExtensions {
		path := filepath.Join(r.dir, id+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read survey %s", path)
		}
		return DecodeSurvey(data, ext, id)
	}
	return nil, nil
}

func (r *surveyFileRepo) List(ctx context.Context) ([]*model.Survey, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read survey dir %s", r.dir)
	}

	seen := map[string]bool{}
	var surveys []*model.Survey
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isSurveyFile(ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		if seen[id] {
			continue
		}
		seen[id] = true
		survey, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if survey != nil {
			surveys = append(surveys, survey)
		}
	}
	sort.Slice(surveys, func(i, j int) bool { return surveys[i].ID < surveys[j].ID })
	return surveys, nil
}

func isSurveyFile(ext string) bool {
	for _, e := range surveyExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func (r *surveyFileRepo) Upsert(_ context.Context, survey *model.Survey) error {
	if err := survey.Validate(); err != nil {
		return err
	}
	if filepath.Base(survey.ID) != survey.ID {
		return errors.Errorf("invalid survey id %q", survey.ID)
	}
	data, err := json.MarshalIndent(survey, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode survey")
	}
	path := filepath.Join(r.dir, survey.ID+".json")
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write survey %s", path)
}
