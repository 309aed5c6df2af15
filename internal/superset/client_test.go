package superset

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/localnerve/tablebridge/internal/superset/supersettest"
	"github.com/localnerve/tablebridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("local-token-secret")

func newTestClient(t *testing.T, fake *supersettest.Server, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:   fake.URL,
		Username:  supersettest.Username,
		Password:  supersettest.Password,
		Secret:    testSecret,
		PageSize:  2,
		Timeout:   5 * time.Second,
		RetryWait: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	client, err := New(cfg)
	require.NoError(t, err)
	return client
}

func testTarget() Target {
	return Target{
		DatabaseName:  "warehouse",
		Engine:        "postgresql",
		SQLAlchemyURI: "postgresql+psycopg2://user:pass@db:5432/warehouse",
		Schema:        "public",
		Table:         "uploaded_rows",
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	client, err := New(Config{BaseURL: "http://superset:8088/root"})
	require.NoError(t, err)
	assert.Equal(t, "http://superset:8088/root/", client.BaseURL())
	assert.Equal(t, "http://superset:8088/root/api/v1/security/login", client.endpoint(loginPath, nil))

	_, err = New(Config{BaseURL: "superset:8088"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "/relative"})
	assert.Error(t, err)
}

func TestAuthenticateCoercesNumericSubject(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()

	tokens, err := newTestClient(t, fake).Authenticate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "42", tokens.Subject)
	assert.NotEmpty(t, tokens.Access)
	assert.NotEmpty(t, tokens.Refresh)

	claims, err := VerifyToken(tokens.Signed, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "42", claims["sub"])
	assert.Equal(t, "access", claims["type"])

	// the issued token is untouched
	_, err = VerifyToken(tokens.Access, testSecret)
	assert.Error(t, err)

	logins := fake.CallsTo(http.MethodPost, "/api/v1/security/login")
	require.Len(t, logins, 1)
	assert.Equal(t, "db", logins[0].Body["provider"])
	assert.Equal(t, true, logins[0].Body["refresh"])
}

func TestAuthenticateRejected(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()
	fake.LoginStatus = http.StatusUnauthorized

	tokens, err := newTestClient(t, fake).Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuth))
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Empty(t, tokens.Signed)

	// 4xx is not retried
	assert.Len(t, fake.CallsTo(http.MethodPost, "/api/v1/security/login"), 1)
}

func TestAuthenticateRetriesOnceOnServerError(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()
	fake.FailFirst = 1

	_, err := newTestClient(t, fake).Authenticate(context.Background())
	require.NoError(t, err)
	assert.Len(t, fake.CallsTo(http.MethodPost, "/api/v1/security/login"), 2)
}

func TestAuthenticateGivesUpAfterOneRetry(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()
	fake.FailFirst = 5

	_, err := newTestClient(t, fake).Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuth))
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.Len(t, fake.CallsTo(http.MethodPost, "/api/v1/security/login"), 2)
}

func TestResignToken(t *testing.T) {
	issued, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 12345678901234,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other"))
	require.NoError(t, err)

	signed, subject, err := ResignToken(issued, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "12345678901234", subject)

	claims, err := VerifyToken(signed, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "12345678901234", claims["sub"])

	_, _, err = ResignToken(issued, nil)
	assert.Error(t, err)
	_, _, err = ResignToken("not-a-jwt", testSecret)
	assert.Error(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"type": "access"}).SignedString([]byte("other"))
	require.NoError(t, err)
	_, _, err = ResignToken(noSub, testSecret)
	assert.Error(t, err)
}

func TestCoerceSubject(t *testing.T) {
	tests := []struct {
		name string
		sub  interface{}
		want string
	}{
		{"string", "alice", "alice"},
		{"json number", json.Number("42"), "42"},
		{"float", float64(42), "42"},
		{"int64", int64(7), "7"},
		{"int", 9, "9"},
		{"bool", true, "true"},
		{"object", map[string]interface{}{"id": 1}, `{"id":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := jwt.MapClaims{"sub": tt.sub}
			got, err := CoerceSubject(claims)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, claims["sub"])
		})
	}
}

func TestVerifyTokenRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "1"}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = VerifyToken(token, testSecret)
	assert.Error(t, err)
}

func TestRegisterCreatesDatabaseAndDataset(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()
	client := newTestClient(t, fake)

	tokens, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	reg, err := client.Register(context.Background(), tokens, testTarget())
	require.NoError(t, err)
	assert.True(t, reg.DatasetCreated)
	assert.NotZero(t, reg.DatabaseID)
	assert.NotZero(t, reg.DatasetID)

	dbs := fake.Databases()
	require.Len(t, dbs, 1)
	assert.Equal(t, "warehouse", dbs[0].Name)
	assert.Equal(t, testTarget().SQLAlchemyURI, dbs[0].URI)

	datasets := fake.Datasets()
	require.Len(t, datasets, 1)
	assert.Equal(t, supersettest.Dataset{ID: reg.DatasetID, DatabaseID: reg.DatabaseID, Schema: "public", Table: "uploaded_rows"}, datasets[0])

	posts := fake.CallsTo(http.MethodPost, "/api/v1/database/")
	require.Len(t, posts, 1)
	assert.Equal(t, "sqlalchemy_form", posts[0].Body["configuration_method"])
	assert.Equal(t, "Bearer "+tokens.Signed, posts[0].Header.Get("Authorization"))
	assert.Equal(t, fake.URL+"/api/v1/security/csrf_token/", posts[0].Header.Get("Referer"))
	assert.NotEmpty(t, posts[0].Header.Get("X-CSRFToken"))
}

func TestRegisterExistingDatabaseAndDatasetRefreshes(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()

	// push the target past the first page
	fake.AddDatabase("alpha", "sqlite:///a.db")
	fake.AddDatabase("beta", "sqlite:///b.db")
	dbID := fake.AddDatabase("warehouse", "postgresql+psycopg2://db/warehouse")
	fake.AddDataset(dbID, "other", "uploaded_rows")
	fake.AddDataset(dbID, "public", "another_table")
	datasetID := fake.AddDataset(dbID, "public", "uploaded_rows")

	client := newTestClient(t, fake)
	tokens, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	reg, err := client.Register(context.Background(), tokens, testTarget())
	require.NoError(t, err)
	assert.Equal(t, Registration{DatabaseID: dbID, DatasetID: datasetID}, reg)

	assert.Equal(t, []int64{datasetID}, fake.Refreshed())
	assert.Len(t, fake.Databases(), 3)
	assert.Len(t, fake.Datasets(), 3)
	assert.Len(t, fake.CallsTo(http.MethodGet, "/api/v1/database/"), 2)
	assert.Empty(t, fake.CallsTo(http.MethodPost, "/api/v1/dataset/"))
}

func TestRegisterTwiceIsIdempotent(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()
	client := newTestClient(t, fake)

	tokens, err := client.Authenticate(context.Background())
	require.NoError(t, err)

	first, err := client.Register(context.Background(), tokens, testTarget())
	require.NoError(t, err)
	second, err := client.Register(context.Background(), tokens, testTarget())
	require.NoError(t, err)

	assert.Equal(t, first.DatabaseID, second.DatabaseID)
	assert.Equal(t, first.DatasetID, second.DatasetID)
	assert.False(t, second.DatasetCreated)
	assert.Len(t, fake.Databases(), 1)
	assert.Len(t, fake.Datasets(), 1)
}

func TestRegisterWithAccessBearer(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()
	client := newTestClient(t, fake, func(c *Config) { c.Bearer = "access" })

	tokens, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	_, err = client.Register(context.Background(), tokens, testTarget())
	require.NoError(t, err)

	csrf := fake.CallsTo(http.MethodGet, "/api/v1/security/csrf_token/")
	require.Len(t, csrf, 1)
	assert.Equal(t, "Bearer "+tokens.Access, csrf[0].Header.Get("Authorization"))
}

func TestRegisterFailures(t *testing.T) {
	t.Run("database rejected", func(t *testing.T) {
		fake := supersettest.New()
		defer fake.Close()
		fake.DatabaseStatus = http.StatusBadRequest
		client := newTestClient(t, fake)

		tokens, err := client.Authenticate(context.Background())
		require.NoError(t, err)
		_, err = client.Register(context.Background(), tokens, testTarget())
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrRegistration))
		assert.Empty(t, fake.CallsTo(http.MethodPost, "/api/v1/dataset/"))
	})

	t.Run("unprocessable but missing", func(t *testing.T) {
		fake := supersettest.New()
		defer fake.Close()
		fake.DatabaseStatus = http.StatusUnprocessableEntity
		client := newTestClient(t, fake)

		tokens, err := client.Authenticate(context.Background())
		require.NoError(t, err)
		_, err = client.Register(context.Background(), tokens, testTarget())
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrRegistration))
		assert.Contains(t, err.Error(), "not registered")
	})

	t.Run("no bearer", func(t *testing.T) {
		fake := supersettest.New()
		defer fake.Close()

		_, err := newTestClient(t, fake).Register(context.Background(), Tokens{}, testTarget())
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrRegistration))
		assert.Empty(t, fake.Calls())
	})
}

func TestListQuery(t *testing.T) {
	q := listQuery([]filter{
		{Col: "table_name", Opr: "eq", Value: "it's!"},
		{Col: "database", Opr: "rel_o_m", Value: int64(3)},
	}, 1, 50)
	assert.Equal(t, "(filters:!((col:table_name,opr:eq,value:'it!'s!!'),(col:database,opr:rel_o_m,value:3)),page:1,page_size:50)", q)

	assert.Equal(t, "!t", risonValue(true))
	assert.Equal(t, "!n", risonValue(nil))

	// survives query encoding
	values, err := url.ParseQuery(url.Values{"q": {q}}.Encode())
	require.NoError(t, err)
	assert.Equal(t, q, values.Get("q"))
}

func TestSQLAlchemyURI(t *testing.T) {
	tests := []struct {
		dbType     string
		wantEngine string
		wantURI    string
	}{
		{"postgres", "postgresql", "postgresql+psycopg2://app:p%40ss@db:5432/warehouse"},
		{"mysql", "mysql", "mysql+mysqldb://app:p%40ss@db:5432/warehouse"},
		{"sqlserver", "mssql", "mssql+pymssql://app:p%40ss@db:5432/warehouse"},
		{"sqlite", "sqlite", "sqlite:///warehouse"},
	}
	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			engine, uri, err := SQLAlchemyURI(tt.dbType, "db", "5432", "app", "p@ss", "warehouse")
			require.NoError(t, err)
			assert.Equal(t, tt.wantEngine, engine)
			assert.Equal(t, tt.wantURI, uri)
		})
	}

	_, _, err := SQLAlchemyURI("oracle", "db", "1521", "", "", "x")
	assert.Error(t, err)
}
