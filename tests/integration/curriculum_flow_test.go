package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/curriculum/internal/auth"
	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
	"github.com/MarcoPoloResearchLab/curriculum/internal/database"
	"github.com/MarcoPoloResearchLab/curriculum/internal/server"
	"github.com/MarcoPoloResearchLab/curriculum/internal/synctool"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "curriculum"
	sessionUserID        = "editor-abc"
	jsonContentType      = "application/json"
)

const curriculumSource = `units:
  - slug: numeration
    title: Numeration
    topicOrder: [golden-beads, teen-boards]
  - slug: addition
    title: Addition
topics:
  - slug: golden-beads
    unitId: numeration
    title: Golden Beads
  - slug: teen-boards
    unitId: numeration
    title: Teen Boards
  - slug: stamp-game
    unitId: addition
    title: Stamp Game
lessons:
  - slug: intro-golden-beads
    topicId: golden-beads
    title: Introduction to the Golden Beads
    gradeLevels: ["K"]
  - slug: golden-bead-exchange
    topicId: golden-beads
    title: Exchanging
  - slug: teen-board-one
    topicId: teen-boards
    title: Teen Board One
  - slug: stamp-game-static
    topicId: stamp-game
    title: Static Addition
`

func TestCurriculumSyncMoveAndExportFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(testContext.TempDir(), "curriculum.db"),
	}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	curriculumService, err := curriculum.NewService(curriculum.ServiceConfig{
		Database:   db,
		IDProvider: curriculum.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build curriculum service: %v", err)
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator:  sessionValidator,
		CurriculumService: curriculumService,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	sessionCookie := &http.Cookie{
		Name:  sessionCookieName,
		Value: mustMintSessionToken(testContext, sessionSigningSecret, sessionUserID, time.Now()),
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token issuer: %v", err)
	}
	automationToken, _, err := tokenIssuer.IssueSessionToken(context.Background(), auth.TokenSubject{UserID: "ci"})
	if err != nil {
		testContext.Fatalf("failed to mint automation token: %v", err)
	}
	client, err := synctool.NewClient(synctool.ClientConfig{ServerURL: testServer.URL, Token: automationToken})
	if err != nil {
		testContext.Fatalf("failed to build sync client: %v", err)
	}

	sourcePath := filepath.Join(testContext.TempDir(), "source.yaml")
	if err := os.WriteFile(sourcePath, []byte(curriculumSource), 0o644); err != nil {
		testContext.Fatalf("failed to write source: %v", err)
	}
	source, err := synctool.LoadSource(sourcePath)
	if err != nil {
		testContext.Fatalf("failed to load source: %v", err)
	}
	manifest, err := synctool.BuildManifest(source, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		testContext.Fatalf("failed to build manifest: %v", err)
	}

	summary, err := client.Push(context.Background(), manifest, curriculum.SyncOptions{Prune: true})
	if err != nil {
		testContext.Fatalf("push failed: %v", err)
	}
	if summary.Units.Created != 2 || summary.Topics.Created != 3 || summary.Lessons.Created != 4 {
		testContext.Fatalf("unexpected first sync summary %+v", summary)
	}

	again, err := client.Push(context.Background(), manifest, curriculum.SyncOptions{Prune: true})
	if err != nil {
		testContext.Fatalf("second push failed: %v", err)
	}
	if again.Units != (curriculum.EntityCounts{}) || again.Topics != (curriculum.EntityCounts{}) || again.Lessons != (curriculum.EntityCounts{}) {
		testContext.Fatalf("expected idempotent second sync, got %+v", again)
	}

	numeration := getUnitNode(testContext, testServer.URL, sessionCookie, "numeration")
	if len(numeration.Topics) != 2 || numeration.Topics[0].Slug != "golden-beads" {
		testContext.Fatalf("unexpected numeration topics %+v", numeration.Topics)
	}
	goldenBeads := numeration.Topics[0]
	if len(goldenBeads.Lessons) != 2 {
		testContext.Fatalf("expected two golden bead lessons, got %d", len(goldenBeads.Lessons))
	}
	moving := goldenBeads.Lessons[1]

	addition := getUnitNode(testContext, testServer.URL, sessionCookie, "addition")
	stampGame := addition.Topics[0]
	moveBody, _ := json.Marshal(map[string]any{"targetTopicId": stampGame.ID, "targetIndex": 0})
	moveReq, _ := http.NewRequest(http.MethodPost, testServer.URL+"/curriculum/lessons/"+moving.ID+"/move", bytes.NewReader(moveBody))
	moveReq.AddCookie(sessionCookie)
	moveReq.Header.Set("Content-Type", jsonContentType)
	moveResp, err := http.DefaultClient.Do(moveReq)
	if err != nil {
		testContext.Fatalf("move request failed: %v", err)
	}
	moveResp.Body.Close()
	if moveResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected move status: %d", moveResp.StatusCode)
	}

	addition = getUnitNode(testContext, testServer.URL, sessionCookie, "addition")
	lessons := addition.Topics[0].Lessons
	if len(lessons) != 2 || lessons[0].ID != moving.ID || lessons[0].Order != 0 || lessons[1].Order != 1 {
		testContext.Fatalf("expected moved lesson first in stamp game, got %+v", lessons)
	}

	exported, err := client.Export(context.Background())
	if err != nil {
		testContext.Fatalf("export failed: %v", err)
	}
	if len(exported.Lessons) != 4 {
		testContext.Fatalf("expected four exported lessons, got %d", len(exported.Lessons))
	}

	roundTrip, err := client.Push(context.Background(), exported, curriculum.SyncOptions{Prune: true})
	if err != nil {
		testContext.Fatalf("round trip push failed: %v", err)
	}
	if roundTrip.Units != (curriculum.EntityCounts{}) || roundTrip.Topics != (curriculum.EntityCounts{}) {
		testContext.Fatalf("expected export round trip to leave units and topics alone, got %+v", roundTrip)
	}
	if roundTrip.Lessons.Created != 0 || roundTrip.Lessons.Deleted != 0 {
		testContext.Fatalf("expected export round trip to keep every lesson, got %+v", roundTrip.Lessons)
	}

	addition = getUnitNode(testContext, testServer.URL, sessionCookie, "addition")
	if addition.Topics[0].Lessons[0].ID != moving.ID {
		testContext.Fatalf("expected export round trip to keep the moved lesson in place")
	}
}

func getUnitNode(testContext *testing.T, baseURL string, cookie *http.Cookie, slug string) curriculum.UnitNode {
	testContext.Helper()
	request, _ := http.NewRequest(http.MethodGet, baseURL+"/curriculum/units/by-slug/"+slug, nil)
	request.AddCookie(cookie)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("unit request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected unit status for %s: %d", slug, response.StatusCode)
	}
	var node curriculum.UnitNode
	if err := json.NewDecoder(response.Body).Decode(&node); err != nil {
		testContext.Fatalf("failed to decode unit: %v", err)
	}
	return node
}

func mustMintSessionToken(testContext *testing.T, signingSecret, userID string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		testContext.Fatalf("failed to sign session token: %v", err)
	}
	return signed
}
