package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/atelier-market-api/config"
	"github.com/kendall-kelly/atelier-market-api/models"
	"github.com/kendall-kelly/atelier-market-api/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMockAuth0Server simulates Auth0's /userinfo endpoint, keyed by access token
func setupMockAuth0Server(userInfoMap map[string]*services.Auth0UserInfo) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/userinfo" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		userInfo, exists := userInfoMap[token]
		if !ok || !exists {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userInfo)
	}))
}

func useAuth0Server(t *testing.T, server *httptest.Server) {
	t.Helper()
	original := config.GetConfig()
	t.Cleanup(func() { config.SetConfig(original) })
	config.SetConfig(&config.Config{Auth0Domain: server.URL})
}

func TestCreateUser(t *testing.T) {
	db := setupTestDB(t)

	tests := []struct {
		name           string
		auth0ID        string
		email          string
		userName       string
		role           string
		expectedStatus int
		expectedCode   string
		expectedRole   string
	}{
		{"Create buyer", "auth0|buyer1", "bea@example.com", "Bea", models.RoleBuyer, http.StatusCreated, "", models.RoleBuyer},
		{"Create seller", "auth0|seller1", "sam@example.com", "Sam", models.RoleSeller, http.StatusCreated, "", models.RoleSeller},
		{"Default role is buyer", "auth0|norole", "nora@example.com", "Nora", "", http.StatusCreated, "", models.RoleBuyer},
		{"Unsupported role", "auth0|tech", "tech@example.com", "Tech", "technician", http.StatusBadRequest, "INVALID_ROLE", ""},
		{"Missing email", "auth0|noemail", "", "No Email", models.RoleBuyer, http.StatusBadRequest, "MISSING_EMAIL", ""},
		{"Missing name", "auth0|noname", "noname@example.com", "", models.RoleBuyer, http.StatusBadRequest, "MISSING_NAME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db.Exec("DELETE FROM users")

			token := "token-" + tt.auth0ID
			server := setupMockAuth0Server(map[string]*services.Auth0UserInfo{
				token: {Sub: tt.auth0ID, Email: tt.email, Name: tt.userName},
			})
			defer server.Close()
			useAuth0Server(t, server)

			router := setupTestRouter()
			router.POST("/users", mockAuthMiddleware(tt.auth0ID, tt.role, token), CreateUser)

			w, response := doJSON(t, router, http.MethodPost, "/users", nil)

			assert.Equal(t, tt.expectedStatus, w.Code, "Response body: %s", w.Body.String())
			if tt.expectedStatus == http.StatusCreated {
				data := response["data"].(map[string]any)
				assert.Equal(t, tt.email, data["email"])
				assert.Equal(t, tt.userName, data["name"])
				assert.Equal(t, tt.auth0ID, data["auth0_id"])
				assert.Equal(t, tt.expectedRole, data["role"])
			} else {
				assert.Equal(t, tt.expectedCode, errorCode(response))
			}
		})
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Create(&models.User{Auth0ID: "auth0|dup", Name: "First", Email: "dup@example.com", Role: models.RoleBuyer}).Error)

	server := setupMockAuth0Server(map[string]*services.Auth0UserInfo{
		"token-dup": {Sub: "auth0|dup", Email: "dup@example.com", Name: "Second"},
	})
	defer server.Close()
	useAuth0Server(t, server)

	router := setupTestRouter()
	router.POST("/users", mockAuthMiddleware("auth0|dup", models.RoleBuyer, "token-dup"), CreateUser)

	w, response := doJSON(t, router, http.MethodPost, "/users", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "USER_EXISTS", errorCode(response))
}

func TestCreateUser_Auth0Unavailable(t *testing.T) {
	setupTestDB(t)

	server := setupMockAuth0Server(map[string]*services.Auth0UserInfo{})
	defer server.Close()
	useAuth0Server(t, server)

	router := setupTestRouter()
	router.POST("/users", mockAuthMiddleware("auth0|x", models.RoleBuyer, "revoked"), CreateUser)

	w, response := doJSON(t, router, http.MethodPost, "/users", nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "AUTH0_ERROR", errorCode(response))
}

func TestGetMyProfile(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{Auth0ID: "auth0|me", Name: "Mia", Email: "mia@example.com", Role: models.RoleSeller}
	require.NoError(t, db.Create(&user).Error)

	router := setupTestRouter()
	router.GET("/users/me", func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-Test-User"))
		GetMyProfile(c)
	})

	t.Run("Existing profile", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.Header.Set("X-Test-User", "auth0|me")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		data := response["data"].(map[string]any)
		assert.Equal(t, "mia@example.com", data["email"])
		assert.Equal(t, models.RoleSeller, data["role"])
	})

	t.Run("Missing profile", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
		req.Header.Set("X-Test-User", "auth0|nobody")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "USER_NOT_FOUND")
	})
}

func TestUpdateMyProfile(t *testing.T) {
	db := setupTestDB(t)
	me := models.User{Auth0ID: "auth0|me", Name: "Mia", Email: "mia@example.com", Role: models.RoleBuyer}
	other := models.User{Auth0ID: "auth0|other", Name: "Otto", Email: "otto@example.com", Role: models.RoleBuyer}
	require.NoError(t, db.Create(&me).Error)
	require.NoError(t, db.Create(&other).Error)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedCode   string
		expectedName   string
		expectedEmail  string
	}{
		{"Update name and email", gin.H{"name": "Mia Rossi", "email": "mia.rossi@example.com"},
			http.StatusOK, "", "Mia Rossi", "mia.rossi@example.com"},
		{"Partial update", gin.H{"name": "Mia R."}, http.StatusOK, "", "Mia R.", "mia.rossi@example.com"},
		{"Empty update returns current profile", gin.H{}, http.StatusOK, "", "Mia R.", "mia.rossi@example.com"},
		{"Invalid email", gin.H{"email": "not-an-email"}, http.StatusBadRequest, "VALIDATION_ERROR", "", ""},
		{"Email taken", gin.H{"email": "otto@example.com"}, http.StatusConflict, "EMAIL_EXISTS", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter()
			router.PUT("/users/me", asUser(me), UpdateMyProfile)

			w, response := doJSON(t, router, http.MethodPut, "/users/me", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code, "Response body: %s", w.Body.String())
			if tt.expectedStatus == http.StatusOK {
				data := response["data"].(map[string]any)
				assert.Equal(t, tt.expectedName, data["name"])
				assert.Equal(t, tt.expectedEmail, data["email"])
			} else {
				assert.Equal(t, tt.expectedCode, errorCode(response))
			}
		})
	}
}
