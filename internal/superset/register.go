package superset

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/localnerve/tablebridge/internal/types"
	log "github.com/sirupsen/logrus"
)

// Target names the relational table to expose in Superset
type Target struct {
	DatabaseName  string
	Engine        string
	SQLAlchemyURI string
	Schema        string
	Table         string
}

// Registration holds the ids Superset assigned
type Registration struct {
	DatabaseID     int64
	DatasetID      int64
	DatasetCreated bool
}

type csrfResponse struct {
	Result string `json:"result"`
}

type databasePayload struct {
	DatabaseName        string `json:"database_name"`
	Engine              string `json:"engine"`
	ConfigurationMethod string `json:"configuration_method"`
	SQLAlchemyURI       string `json:"sqlalchemy_uri"`
}

type datasetPayload struct {
	Database  int64  `json:"database"`
	Schema    string `json:"schema"`
	TableName string `json:"table_name"`
}

type databaseItem struct {
	ID           int64  `json:"id"`
	DatabaseName string `json:"database_name"`
}

type datasetItem struct {
	ID        int64  `json:"id"`
	TableName string `json:"table_name"`
	Schema    string `json:"schema"`
	Database  struct {
		ID int64 `json:"id"`
	} `json:"database"`
}

type listResponse[T any] struct {
	Count  int `json:"count"`
	Result []T `json:"result"`
}

type createdResponse struct {
	ID int64 `json:"id"`
}

// session carries the headers every registration call needs
type session struct {
	client *Client
	header http.Header
}

func (c *Client) bearer(tokens Tokens) string {
	if c.cfg.Bearer == "access" {
		return tokens.Access
	}
	return tokens.Signed
}

// Register registers the target database and dataset. Failures wrap types.ErrRegistration.
func (c *Client) Register(ctx context.Context, tokens Tokens, target Target) (Registration, error) {
	bearer := c.bearer(tokens)
	if bearer == "" {
		return Registration{}, fmt.Errorf("%w: no bearer token", types.ErrRegistration)
	}

	s, err := c.openSession(ctx, bearer)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: csrf: %w", types.ErrRegistration, err)
	}

	logCtx := log.WithFields(log.Fields{"database": target.DatabaseName, "table": target.Table})

	if err := s.createDatabase(ctx, target); err != nil {
		if !IsStatus(err, http.StatusUnprocessableEntity) {
			return Registration{}, fmt.Errorf("%w: create database: %w", types.ErrRegistration, err)
		}
		logCtx.WithError(err).Info("Superset database not created, looking up existing registration")
	}

	dbID, err := s.findDatabase(ctx, target.DatabaseName)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: find database: %w", types.ErrRegistration, err)
	}

	reg := Registration{DatabaseID: dbID}

	datasetID, found, err := s.findDataset(ctx, dbID, target)
	if err != nil {
		return reg, fmt.Errorf("%w: find dataset: %w", types.ErrRegistration, err)
	}

	if found {
		if err := s.refreshDataset(ctx, datasetID); err != nil {
			return reg, fmt.Errorf("%w: refresh dataset %d: %w", types.ErrRegistration, datasetID, err)
		}
	} else {
		if datasetID, err = s.createDataset(ctx, dbID, target); err != nil {
			return reg, fmt.Errorf("%w: create dataset: %w", types.ErrRegistration, err)
		}
		reg.DatasetCreated = true
	}
	reg.DatasetID = datasetID

	logCtx.WithFields(log.Fields{"database_id": dbID, "dataset_id": datasetID, "created": reg.DatasetCreated}).Info("Registered Superset dataset")
	return reg, nil
}

// openSession fetches a CSRF token; later mutating calls send it with the csrf endpoint as Referer
func (c *Client) openSession(ctx context.Context, bearer string) (*session, error) {
	csrfURL := c.endpoint(csrfPath, nil)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearer)

	var res csrfResponse
	if err := c.do(ctx, http.MethodGet, csrfURL, header, nil, &res); err != nil {
		return nil, err
	}
	if res.Result == "" {
		return nil, fmt.Errorf("empty csrf token")
	}

	header.Set("X-CSRFToken", res.Result)
	header.Set("Referer", csrfURL)
	return &session{client: c, header: header}, nil
}

func (s *session) createDatabase(ctx context.Context, target Target) error {
	return s.client.do(ctx, http.MethodPost, s.client.endpoint(databaseAPI, nil), s.header, databasePayload{
		DatabaseName:        target.DatabaseName,
		Engine:              target.Engine,
		ConfigurationMethod: "sqlalchemy_form",
		SQLAlchemyURI:       target.SQLAlchemyURI,
	}, nil)
}

// findDatabase pages through a name-filtered list until an exact match
func (s *session) findDatabase(ctx context.Context, name string) (int64, error) {
	filters := []filter{{Col: "database_name", Opr: "eq", Value: name}}
	pageSize := s.client.cfg.PageSize

	for page := 0; ; page++ {
		var res listResponse[databaseItem]
		q := url.Values{"q": {listQuery(filters, page, pageSize)}}
		if err := s.client.do(ctx, http.MethodGet, s.client.endpoint(databaseAPI, q), s.header, nil, &res); err != nil {
			return 0, err
		}
		for _, db := range res.Result {
			if db.DatabaseName == name {
				return db.ID, nil
			}
		}
		if len(res.Result) == 0 || (page+1)*pageSize >= res.Count {
			return 0, fmt.Errorf("database %q is not registered", name)
		}
	}
}

func (s *session) findDataset(ctx context.Context, databaseID int64, target Target) (int64, bool, error) {
	filters := []filter{
		{Col: "table_name", Opr: "eq", Value: target.Table},
		{Col: "database", Opr: "rel_o_m", Value: databaseID},
	}
	pageSize := s.client.cfg.PageSize

	for page := 0; ; page++ {
		var res listResponse[datasetItem]
		q := url.Values{"q": {listQuery(filters, page, pageSize)}}
		if err := s.client.do(ctx, http.MethodGet, s.client.endpoint(datasetAPI, q), s.header, nil, &res); err != nil {
			return 0, false, err
		}
		for _, ds := range res.Result {
			if ds.TableName == target.Table && ds.Schema == target.Schema && ds.Database.ID == databaseID {
				return ds.ID, true, nil
			}
		}
		if len(res.Result) == 0 || (page+1)*pageSize >= res.Count {
			return 0, false, nil
		}
	}
}

func (s *session) createDataset(ctx context.Context, databaseID int64, target Target) (int64, error) {
	var res createdResponse
	err := s.client.do(ctx, http.MethodPost, s.client.endpoint(datasetAPI, nil), s.header, datasetPayload{
		Database:  databaseID,
		Schema:    target.Schema,
		TableName: target.Table,
	}, &res)
	if err != nil {
		return 0, err
	}
	return res.ID, nil
}

// refreshDataset makes Superset re-read the table's columns after a schema change
func (s *session) refreshDataset(ctx context.Context, id int64) error {
	path := fmt.Sprintf("%s%d/refresh", datasetAPI, id)
	return s.client.do(ctx, http.MethodPut, s.client.endpoint(path, nil), s.header, nil, nil)
}
