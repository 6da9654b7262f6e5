package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"snos-license-server/internal/model"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetSyncService 把许可证行镜像到 Google Sheet,供运营侧查看。
// 只是数据库的只读镜像,同步失败不影响引擎语义。
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetSyncService(enableSync bool, credentialPath, spreadsheetID, sheetName string) (*SheetSyncService, error) {
	if !enableSync {
		return nil, nil
	}

	ctx := context.Background()

	b, err := os.ReadFile(credentialPath)
	if err != nil {
		return nil, err
	}

	// 服务账号授权
	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("无法加载凭证: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, err
	}

	return &SheetSyncService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func licenseRow(lic *model.License) []interface{} {
	return []interface{}{
		lic.Key,
		lic.Status,
		lic.ExpiresAt.Format(time.RFC3339),
		strconv.Itoa(lic.MaxActivations),
		strconv.Itoa(lic.ActiveCount),
		lic.Notes,
		lic.Issuer,
		lic.CreatedAt.Format(time.RFC3339),
		lic.UpdatedAt.Format(time.RFC3339),
	}
}

// SyncLicense 同步单个许可证:密钥已存在则更新该行,否则追加
func (s *SheetSyncService) SyncLicense(lic *model.License) error {
	if s == nil {
		return nil
	}

	rangeToSearch := fmt.Sprintf("%s!A2:A", s.sheetName)
	keyResp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, rangeToSearch).Do()
	if err != nil {
		log.Printf("查询Sheet数据失败: %v", err)
		return fmt.Errorf("查询Sheet数据失败: %v", err)
	}

	var rowIndex int
	found := false
	for i, row := range keyResp.Values {
		if len(row) > 0 && row[0] == lic.Key {
			found = true
			rowIndex = i + 2 // 数据从A2开始
			break
		}
	}

	values := [][]interface{}{licenseRow(lic)}

	if found {
		rangeData := fmt.Sprintf("%s!A%d:I%d", s.sheetName, rowIndex, rowIndex)
		_, err = s.service.Spreadsheets.Values.Update(
			s.spreadsheetID,
			rangeData,
			&sheets.ValueRange{Values: values},
		).ValueInputOption("USER_ENTERED").Do()
	} else {
		_, err = s.service.Spreadsheets.Values.Append(
			s.spreadsheetID,
			s.sheetName+"!A2:I",
			&sheets.ValueRange{Values: values},
		).ValueInputOption("USER_ENTERED").Do()
	}

	if err != nil {
		log.Printf("同步到Google Sheet失败: %v", err)
		return fmt.Errorf("同步到Google Sheet失败: %v", err)
	}

	return nil
}

// BatchSyncLicenses 批量追加许可证行,批量签发后调用
func (s *SheetSyncService) BatchSyncLicenses(licenses []*model.License) error {
	if s == nil {
		return nil
	}

	var values [][]interface{}
	for _, lic := range licenses {
		values = append(values, licenseRow(lic))
	}

	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A2:I",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Do()

	if err != nil {
		log.Printf("批量同步许可证失败: %v", err)
		return err
	}

	return nil
}
